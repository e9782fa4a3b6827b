// Package metadata defines the document model stored in the metadata store:
// one Node per virtual filesystem entry, keyed by (parent, name).
package metadata

import (
	"strings"
	"time"

	"github.com/marmos91/nebulaftp/pkg/vpath"
)

// NodeType discriminates directories from files.
type NodeType string

const (
	TypeDir  NodeType = "dir"
	TypeFile NodeType = "file"
)

// Status tracks where a file's bytes currently live.
type Status string

const (
	// StatusStaging means the authoritative bytes are LocalPath on disk.
	StatusStaging Status = "staging"
	// StatusCompleted means Parts is authoritative and LocalPath is unset.
	StatusCompleted Status = "completed"
)

// PartialSuffix marks in-flight client uploads. Files carrying the suffix
// are hidden from listings and never enqueued for upload; the rename that
// drops the suffix triggers persistence.
const PartialSuffix = ".partial"

// ChunkRef identifies one fixed-size slice of a file persisted to the blob
// backend. Chunks are ordered by PartID; every chunk but the last has the
// configured chunk size.
type ChunkRef struct {
	PartID    uint32 `bson:"part_id" json:"part_id"`
	BlobID    string `bson:"blob_id" json:"blob_id"`
	BlobMsgID uint64 `bson:"blob_msg_id" json:"blob_msg_id"`
	Size      uint32 `bson:"file_size" json:"file_size"`
	ChunkName string `bson:"chunk_name" json:"chunk_name"`
}

// Node is a single virtual filesystem entry.
//
// For a completed file exactly one of LocalPath and Parts is set; during an
// upload both may coexist until the uploader's final swap.
type Node struct {
	ID           string     `bson:"_id,omitempty" json:"id,omitempty"`
	Type         NodeType   `bson:"type" json:"type"`
	Name         string     `bson:"name" json:"name"`
	Parent       string     `bson:"parent" json:"parent"`
	Size         int64      `bson:"size" json:"size"`
	CTime        int64      `bson:"ctime" json:"ctime"`
	MTime        int64      `bson:"mtime" json:"mtime"`
	Status       Status     `bson:"status,omitempty" json:"status,omitempty"`
	LocalPath    string     `bson:"local_path,omitempty" json:"local_path,omitempty"`
	Parts        []ChunkRef `bson:"parts" json:"parts"`
	UploadedAt   int64      `bson:"uploaded_at,omitempty" json:"uploaded_at,omitempty"`
	ObfuscatedID string     `bson:"obfuscated_id,omitempty" json:"obfuscated_id,omitempty"`
}

// NewDir returns a directory node for the given path.
func NewDir(parent, name string) *Node {
	now := time.Now().Unix()
	return &Node{
		Type:   TypeDir,
		Name:   name,
		Parent: parent,
		CTime:  now,
		MTime:  now,
	}
}

// NewFile returns an empty file node for the given path.
func NewFile(parent, name string) *Node {
	now := time.Now().Unix()
	return &Node{
		Type:   TypeFile,
		Name:   name,
		Parent: parent,
		CTime:  now,
		MTime:  now,
		Parts:  []ChunkRef{},
	}
}

// Path returns the node's full virtual path.
func (n *Node) Path() string {
	return vpath.Join(n.Parent, n.Name)
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Type == TypeDir
}

// Completed reports whether the file's chunk list is authoritative.
func (n *Node) Completed() bool {
	return n.Status == StatusCompleted
}

// Partial reports whether the node name carries the in-flight upload suffix.
func (n *Node) Partial() bool {
	return strings.HasSuffix(n.Name, PartialSuffix)
}

// Mode returns synthesized Unix mode bits: 0100666 for files, 040777 for
// directories. The virtual filesystem has no real ownership or permission
// bits; FTP clients only need something plausible to render.
func (n *Node) Mode() uint32 {
	if n.IsDir() {
		return 0o040777
	}
	return 0o100666
}

// PartsSize returns the byte total of the chunk list.
func (n *Node) PartsSize() int64 {
	var total int64
	for _, p := range n.Parts {
		total += int64(p.Size)
	}
	return total
}

// Clone returns a deep copy. The VFS cache hands out clones so callers can
// never mutate cached documents in place.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Parts != nil {
		out.Parts = make([]ChunkRef, len(n.Parts))
		copy(out.Parts, n.Parts)
	}
	return &out
}
