package ftp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nebulaftp/pkg/metadata"
)

func TestFormatListLineRecentFile(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	node := metadata.NewFile("/alice", "report.txt")
	node.Size = 4096
	node.MTime = now.Add(-48 * time.Hour).Unix()

	line := formatListLine(node, now)

	assert.True(t, strings.HasPrefix(line, "-rw-rw-rw-"), line)
	assert.Contains(t, line, "ftp")
	assert.Contains(t, line, "4096")
	assert.Contains(t, line, "Aug 22 12:00")
	assert.True(t, strings.HasSuffix(line, " report.txt"), line)
}

func TestFormatListLineOldFileShowsYear(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	node := metadata.NewFile("/alice", "archive.tar")
	node.MTime = time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC).Unix()

	line := formatListLine(node, now)

	assert.Contains(t, line, "2024")
	assert.NotContains(t, line, "08:30")
}

func TestFormatListLineFutureMTimeShowsYear(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	node := metadata.NewFile("/alice", "clock-skew.txt")
	node.MTime = now.Add(24 * time.Hour).Unix()

	line := formatListLine(node, now)
	assert.Contains(t, line, "2026")
}

func TestModeString(t *testing.T) {
	dir := metadata.NewDir("/", "alice")
	file := metadata.NewFile("/alice", "a.txt")

	assert.Equal(t, "drwxrwxrwx", modeString(dir))
	assert.Equal(t, "-rw-rw-rw-", modeString(file))
}

func TestMdtmTimeIsUTC(t *testing.T) {
	unix := time.Date(2026, 8, 24, 9, 30, 15, 0, time.UTC).Unix()
	assert.Equal(t, "20260824093015", mdtmTime(unix))
}

func TestFormatMLSTFacts(t *testing.T) {
	node := metadata.NewFile("/alice", "report.txt")
	node.ID = "abc123"
	node.Size = 512
	node.MTime = time.Date(2026, 8, 24, 9, 30, 15, 0, time.UTC).Unix()

	facts := formatMLSTFacts(node)

	require.True(t, strings.HasSuffix(facts, "; report.txt"), facts)
	assert.Contains(t, facts, "type=file;")
	assert.Contains(t, facts, "size=512;")
	assert.Contains(t, facts, "modify=20260824093015;")
	assert.Contains(t, facts, "unique=abc123;")
	assert.Contains(t, facts, "unix.mode=0666;")
}

func TestFormatMLSTFactsDir(t *testing.T) {
	node := metadata.NewDir("/", "alice")

	facts := formatMLSTFacts(node)
	assert.Contains(t, facts, "type=dir;")
	assert.Contains(t, facts, "perm=el;")
	assert.Contains(t, facts, "unix.mode=0777;")
}
