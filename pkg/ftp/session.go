package ftp

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/marmos91/nebulaftp/internal/logger"
	metaerrors "github.com/marmos91/nebulaftp/pkg/metadata/errors"
	"github.com/marmos91/nebulaftp/pkg/vpath"
)

// Session is one FTP control connection: its slot state machine and the
// data-transfer workers it has in flight.
type Session struct {
	id   string
	srv  *Server
	ctrl net.Conn
	conn *Conn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	workerMu      sync.Mutex
	workerCancels map[int]context.CancelFunc
	workerSeq     int
	workerWG      sync.WaitGroup

	closeOnce sync.Once
}

func newSession(srv *Server, ctrl net.Conn, id string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithContext(ctx, logger.NewLogContext(id, ctrl.RemoteAddr().String()))
	return &Session{
		id:            id,
		srv:           srv,
		ctrl:          ctrl,
		conn:          NewConn(),
		ctx:           ctx,
		cancel:        cancel,
		workerCancels: make(map[int]context.CancelFunc),
	}
}

// reply writes a response on the control channel. Writes are serialized
// so a transfer worker's 150/226 pair never interleaves byte-wise with
// the control loop's replies.
func (s *Session) reply(r Reply) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.ctrl.Write([]byte(formatReply(r))); err != nil {
		logger.DebugCtx(s.ctx, "Control write failed",
			logger.KeyReplyCode, r.Code,
			logger.KeyError, err.Error())
	}
}

// user returns the authenticated user, or nil before PASS succeeds.
func (s *Session) user() *User {
	v, ok := s.conn.Value(SlotLogged)
	if !ok {
		return nil
	}
	u, _ := v.(*User)
	return u
}

// pendingUser returns the user named by USER, before PASS.
func (s *Session) pendingUser() *User {
	v, ok := s.conn.Value(SlotUser)
	if !ok {
		return nil
	}
	u, _ := v.(*User)
	return u
}

// resolve turns client input into an absolute virtual path, relative
// inputs anchored at the current directory, ".." clamped at root.
func (s *Session) resolve(arg string) string {
	cwd := s.conn.StringValue(SlotCurrentDir)
	if cwd == "" {
		cwd = "/"
	}
	return vpath.Resolve(cwd, arg)
}

// restartOffset consumes the REST offset, resetting the slot.
func (s *Session) restartOffset() int64 {
	off := s.conn.Int64Value(SlotRestart)
	s.conn.Clear(SlotRestart)
	return off
}

// dataConn waits briefly for the passive listener to hand over a data
// connection, and takes it out of the slot. The claiming worker owns
// the connection from here on, so the passive listener can adopt a
// fresh one for the next transfer while this one is still running.
func (s *Session) dataConn() (net.Conn, bool) {
	v, ok := s.conn.Take(SlotData, dataWaitTimeout)
	if !ok {
		return nil, false
	}
	c, ok := v.(net.Conn)
	return c, ok
}

// closeData closes and clears an unclaimed data connection, if any.
func (s *Session) closeData() {
	if v, ok := s.conn.Value(SlotData); ok {
		if c, ok := v.(net.Conn); ok && c != nil {
			c.Close()
		}
	}
	s.conn.Clear(SlotData)
}

// spawnWorker runs a data-transfer task concurrently with the control
// loop. A cancelled worker (ABOR or teardown) replies 426 then 226; a
// failed worker maps its error to a reply; a successful worker is
// expected to have sent its own replies.
func (s *Session) spawnWorker(verb string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(s.ctx)

	s.workerMu.Lock()
	s.workerSeq++
	id := s.workerSeq
	s.workerCancels[id] = cancel
	s.workerMu.Unlock()

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		defer func() {
			s.workerMu.Lock()
			delete(s.workerCancels, id)
			s.workerMu.Unlock()
			cancel()
		}()

		err := fn(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			s.reply(NewReply(426, "transfer aborted"))
			s.reply(NewReply(226, "abort successful"))
		default:
			logger.WarnCtx(s.ctx, "Transfer worker failed",
				logger.KeyCommand, verb,
				logger.KeyError, err.Error())
			s.reply(replyForError(err))
		}
	}()
}

// abortWorkers cancels every in-flight transfer worker.
func (s *Session) abortWorkers() {
	s.workerMu.Lock()
	for _, cancel := range s.workerCancels {
		cancel()
	}
	s.workerMu.Unlock()
}

// teardown cancels workers, closes the passive listener and data
// connection, releases the user's connection slot and closes the control
// connection. Safe to call more than once.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.abortWorkers()
		s.cancel()
		s.workerWG.Wait()

		if v, ok := s.conn.Value(SlotPassive); ok {
			if ps, ok := v.(*PassiveServer); ok && ps != nil {
				ps.Close()
			}
		}
		s.closeData()

		if u := s.user(); u != nil {
			s.srv.auth.NotifyLogout(u.Login)
		} else if u := s.pendingUser(); u != nil {
			s.srv.auth.NotifyLogout(u.Login)
		}

		s.ctrl.Close()
	})
}

// replyForError maps VFS and store errors onto FTP reply codes. Anything
// unrecognized is a generic filesystem failure.
func replyForError(err error) Reply {
	switch metaerrors.CodeOf(err) {
	case metaerrors.ErrNotFound:
		return NewReply(550, "path does not exist")
	case metaerrors.ErrAlreadyExists:
		return NewReply(550, "path already exists")
	case metaerrors.ErrNotDirectory:
		return NewReply(550, "path is not a directory")
	case metaerrors.ErrIsDirectory:
		return NewReply(550, "path is a directory")
	case metaerrors.ErrPermissionDenied:
		return NewReply(550, "permission denied")
	case metaerrors.ErrInvalidArgument:
		return NewReply(501, "syntax error in parameters")
	default:
		return NewReply(451, "fs error")
	}
}
