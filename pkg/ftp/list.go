package ftp

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marmos91/nebulaftp/pkg/metadata"
)

// recentWindow is the ls -l cutoff: mtimes within roughly six months are
// rendered as HH:MM, older (or future) ones as the year.
const recentWindow = 180 * 24 * time.Hour

// formatListLine renders one node in ls -l style:
// mode nlink owner group size time name.
func formatListLine(node *metadata.Node, now time.Time) string {
	mtime := time.Unix(node.MTime, 0).UTC()

	var when string
	age := now.Sub(mtime)
	if age >= 0 && age < recentWindow {
		when = mtime.Format("Jan _2 15:04")
	} else {
		when = mtime.Format("Jan _2  2006")
	}

	return fmt.Sprintf("%s %3d %-8s %-8s %8d %s %s",
		modeString(node), 1, "ftp", "ftp", node.Size, when, node.Name)
}

// modeString renders the synthesized permission bits the VFS reports:
// 0777 directories, 0666 files.
func modeString(node *metadata.Node) string {
	mode := os.FileMode(node.Mode())
	var b strings.Builder
	if node.IsDir() {
		b.WriteByte('d')
	} else {
		b.WriteByte('-')
	}
	rwx := "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			b.WriteByte(rwx[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// mdtmTime renders an mtime in the MDTM wire format, UTC.
func mdtmTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("20060102150405")
}

// formatMLSTFacts renders the machine-readable fact list for MLST/MLSD.
func formatMLSTFacts(node *metadata.Node) string {
	kind := "file"
	if node.IsDir() {
		kind = "dir"
	}
	perm := "r"
	if node.IsDir() {
		perm = "el"
	}
	return fmt.Sprintf("type=%s;size=%d;modify=%s;perm=%s;unique=%s;unix.mode=%04o; %s",
		kind, node.Size, mdtmTime(node.MTime), perm, node.ID, node.Mode()&0o7777, node.Name)
}
