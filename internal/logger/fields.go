package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently
// across all log statements so sessions and transfers can be correlated
// when querying aggregated logs.
const (
	// ========================================================================
	// Session & Connection
	// ========================================================================
	KeySessionID  = "session_id"  // Control connection identifier
	KeyUser       = "user"        // Authenticated FTP login
	KeyClientIP   = "client_ip"   // Client IP address (without port)
	KeyClientPort = "client_port" // Client source port
	KeyCommand    = "command"     // FTP verb: STOR, RETR, LIST, etc.
	KeyReplyCode  = "reply_code"  // FTP reply code sent to the client

	// ========================================================================
	// File System Operations
	// ========================================================================
	KeyPath    = "path"     // Full virtual path
	KeyOldPath = "old_path" // Source path for rename operations
	KeyNewPath = "new_path" // Destination path for rename operations
	KeySize    = "size"     // File size in bytes
	KeyOffset  = "offset"   // Restart offset for REST/RETR/STOR

	// ========================================================================
	// Upload Pipeline
	// ========================================================================
	KeyNodeID     = "node_id"     // Metadata document identifier
	KeyChunk      = "chunk"       // Chunk name (<uuid>.part_NNN)
	KeyParts      = "parts"       // Number of chunks in a file
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyTarget     = "target"      // Blob backend target (bucket, chat)
	KeyBlobID     = "blob_id"     // Chunk identifier in the blob backend
	KeyLocalPath  = "local_path"  // Staging file path on disk
	KeyQueueDepth = "queue_depth" // Pending tasks in the upload queue

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyEntries    = "entries"     // Directory entry count
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// SessionID returns a slog.Attr for a control connection identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// User returns a slog.Attr for the authenticated login.
func User(login string) slog.Attr {
	return slog.String(KeyUser, login)
}

// ClientIP returns a slog.Attr for the client IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Command returns a slog.Attr for the FTP verb being handled.
func Command(verb string) slog.Attr {
	return slog.String(KeyCommand, verb)
}

// ReplyCode returns a slog.Attr for the FTP reply code.
func ReplyCode(code int) slog.Attr {
	return slog.Int(KeyReplyCode, code)
}

// Path returns a slog.Attr for a virtual path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// OldPath returns a slog.Attr for the source path of a rename.
func OldPath(p string) slog.Attr {
	return slog.String(KeyOldPath, p)
}

// NewPath returns a slog.Attr for the destination path of a rename.
func NewPath(p string) slog.Attr {
	return slog.String(KeyNewPath, p)
}

// Size returns a slog.Attr for a byte count.
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// Offset returns a slog.Attr for a restart offset.
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// NodeID returns a slog.Attr for a metadata document ID.
func NodeID(id string) slog.Attr {
	return slog.String(KeyNodeID, id)
}

// Chunk returns a slog.Attr for a chunk name.
func Chunk(name string) slog.Attr {
	return slog.String(KeyChunk, name)
}

// Parts returns a slog.Attr for a file's chunk count.
func Parts(n int) slog.Attr {
	return slog.Int(KeyParts, n)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the retry budget.
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// Target returns a slog.Attr for a blob backend target.
func Target(t string) slog.Attr {
	return slog.String(KeyTarget, t)
}

// BlobID returns a slog.Attr for a chunk's blob identifier.
func BlobID(id string) slog.Attr {
	return slog.String(KeyBlobID, id)
}

// LocalPath returns a slog.Attr for a staging file path.
func LocalPath(p string) slog.Attr {
	return slog.String(KeyLocalPath, p)
}

// QueueDepth returns a slog.Attr for the upload queue depth.
func QueueDepth(n int) slog.Attr {
	return slog.Int(KeyQueueDepth, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. Nil errors yield an empty attr
// that the text handler drops.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Entries returns a slog.Attr for a directory entry count.
func Entries(n int) slog.Attr {
	return slog.Int(KeyEntries, n)
}
