package ftp

import (
	"context"
	"time"
)

// dataWaitTimeout is the window a transfer worker waits for the passive
// listener to hand over a connection before failing with 425. Clients
// may dial the data port only after seeing the 150 preliminary reply,
// so the wait happens in the worker, never before the 150.
const dataWaitTimeout = 5 * time.Second

// Condition is one command precondition. A nil return passes; a non-nil
// return is the failure reply. The dispatcher evaluates a command's
// conditions in order and short-circuits on the first failure.
type Condition func(ctx context.Context, s *Session, arg string) *Reply

// requireSlots fails with 503 unless every named slot is already
// fulfilled.
func requireSlots(message string, slots ...string) Condition {
	return func(_ context.Context, s *Session, _ string) *Reply {
		for _, name := range slots {
			if _, ok := s.conn.Value(name); !ok {
				r := NewReply(503, message)
				return &r
			}
		}
		return nil
	}
}

var (
	userRequired       = requireSlots("bad sequence: send USER first", SlotUser)
	loginRequired      = requireSlots("bad sequence: log in first", SlotUser, SlotLogged)
	passiveRequired    = requireSlots("bad sequence: send PASV or EPSV first", SlotPassive)
	renameFromRequired = requireSlots("bad sequence: send RNFR first", SlotRenameFrom)
)

// pathMustExist fails with 550 unless the resolved path exists.
func pathMustExist(ctx context.Context, s *Session, arg string) *Reply {
	ok, err := s.srv.vfs.Exists(ctx, s.resolve(arg))
	if err != nil {
		r := replyForError(err)
		return &r
	}
	if !ok {
		r := NewReply(550, "path does not exist")
		return &r
	}
	return nil
}

// pathMustBeDir fails with 550 unless the resolved path is a directory.
func pathMustBeDir(ctx context.Context, s *Session, arg string) *Reply {
	ok, err := s.srv.vfs.IsDir(ctx, s.resolve(arg))
	if err != nil {
		r := replyForError(err)
		return &r
	}
	if !ok {
		r := NewReply(550, "path is not a directory")
		return &r
	}
	return nil
}

// pathMustBeFile fails with 550 unless the resolved path is a file.
func pathMustBeFile(ctx context.Context, s *Session, arg string) *Reply {
	ok, err := s.srv.vfs.IsFile(ctx, s.resolve(arg))
	if err != nil {
		r := replyForError(err)
		return &r
	}
	if !ok {
		r := NewReply(550, "path is not a file")
		return &r
	}
	return nil
}

// readable fails with 550 unless the user may read the resolved path.
func readable(_ context.Context, s *Session, arg string) *Reply {
	u := s.user()
	if u == nil || !u.GetPermissions(s.resolve(arg)).Readable {
		r := NewReply(550, "permission denied")
		return &r
	}
	return nil
}

// writable fails with 550 unless the user may write the resolved path.
func writable(_ context.Context, s *Session, arg string) *Reply {
	u := s.user()
	if u == nil || !u.GetPermissions(s.resolve(arg)).Writable {
		r := NewReply(550, "permission denied")
		return &r
	}
	return nil
}
