package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/nebulaftp/internal/logger"
	"github.com/marmos91/nebulaftp/pkg/metrics"
	"github.com/marmos91/nebulaftp/pkg/vfs"
	"github.com/marmos91/nebulaftp/pkg/vpath"
)

// errQuit signals the dispatcher to close the session after draining
// replies.
var errQuit = errors.New("session quit")

// command binds a verb to its preconditions and handler.
type command struct {
	conditions []Condition
	handler    func(ctx context.Context, s *Session, arg string) error

	// keepsRestart marks the verbs that consume a prior REST offset;
	// any other verb resets it.
	keepsRestart bool
}

// commandTable maps lowercased verbs to their commands. TYPE, PBSZ and
// PROT accept any argument and answer 200.
func commandTable() map[string]command {
	okHandler := func(_ context.Context, s *Session, _ string) error {
		s.reply(NewReply(200, "ok"))
		return nil
	}

	return map[string]command{
		"user": {handler: cmdUser},
		"pass": {conditions: []Condition{userRequired}, handler: cmdPass},
		"quit": {handler: cmdQuit},

		"pwd":  {conditions: []Condition{loginRequired}, handler: cmdPwd},
		"cwd":  {conditions: []Condition{loginRequired, pathMustExist, pathMustBeDir, readable}, handler: cmdCwd},
		"cdup": {conditions: []Condition{loginRequired}, handler: cmdCdup},
		"mkd":  {conditions: []Condition{loginRequired, writable}, handler: cmdMkd},
		"rmd":  {conditions: []Condition{loginRequired, pathMustExist, pathMustBeDir, writable}, handler: cmdRmd},
		"dele": {conditions: []Condition{loginRequired, pathMustExist, pathMustBeFile, writable}, handler: cmdDele},
		"rnfr": {conditions: []Condition{loginRequired, pathMustExist}, handler: cmdRnfr},
		"rnto": {conditions: []Condition{loginRequired, renameFromRequired, writable}, handler: cmdRnto},

		"list": {conditions: []Condition{loginRequired, readable, passiveRequired}, handler: cmdList},
		"mlsd": {conditions: []Condition{loginRequired, readable, passiveRequired}, handler: cmdMlsd},
		"mlst": {conditions: []Condition{loginRequired, pathMustExist, readable}, handler: cmdMlst},

		"stor": {conditions: []Condition{loginRequired, writable, passiveRequired}, handler: cmdStor, keepsRestart: true},
		"appe": {conditions: []Condition{loginRequired, writable, passiveRequired}, handler: cmdStor, keepsRestart: true},
		"retr": {conditions: []Condition{loginRequired, pathMustExist, pathMustBeFile, readable, passiveRequired}, handler: cmdRetr, keepsRestart: true},
		"rest": {conditions: []Condition{loginRequired}, handler: cmdRest, keepsRestart: true},

		"size": {conditions: []Condition{loginRequired, pathMustExist, pathMustBeFile, readable}, handler: cmdSize},
		"mdtm": {conditions: []Condition{loginRequired, pathMustExist, readable}, handler: cmdMdtm},

		"pasv": {conditions: []Condition{loginRequired}, handler: cmdPasv},
		"epsv": {conditions: []Condition{loginRequired}, handler: cmdEpsv},
		"abor": {handler: cmdAbor},

		"type": {handler: okHandler},
		"pbsz": {handler: okHandler},
		"prot": {handler: okHandler},
		"opts": {handler: cmdOpts},
		"syst": {handler: cmdSyst},
		"feat": {handler: cmdFeat},
	}
}

func cmdUser(ctx context.Context, s *Session, arg string) error {
	user, err := s.srv.auth.GetUser(ctx, arg)
	if err != nil {
		if errors.Is(err, ErrTooManyConnections) {
			s.reply(NewReply(421, "too many connections"))
			return errQuit
		}
		s.reply(NewReply(530, "no such username"))
		return nil
	}

	// A re-issued USER replaces the pending login; release the slot the
	// previous lookup claimed.
	if prev := s.pendingUser(); prev != nil {
		s.srv.auth.NotifyLogout(prev.Login)
	}

	s.conn.Set(SlotUser, user)
	s.conn.Clear(SlotLogged)
	s.reply(NewReply(331, "password required"))
	return nil
}

func cmdPass(ctx context.Context, s *Session, arg string) error {
	if s.user() != nil {
		s.reply(NewReply(503, "already logged"))
		return nil
	}

	user := s.pendingUser()
	if !s.srv.auth.Authenticate(user, arg) {
		s.reply(NewReply(530, "wrong password"))
		return nil
	}

	s.conn.Set(SlotLogged, user)
	s.conn.Set(SlotCurrentDir, user.HomePath)

	// Later workers inherit the enriched context through spawnWorker.
	if lc := logger.FromContext(s.ctx); lc != nil {
		s.ctx = logger.WithContext(s.ctx, lc.WithUser(user.Login))
	}

	if err := s.srv.vfs.Mkdir(ctx, user.HomePath, true); err != nil {
		logger.WarnCtx(s.ctx, "Failed to ensure home directory",
			logger.KeyPath, user.HomePath,
			logger.KeyError, err.Error())
	}

	logger.InfoCtx(s.ctx, "User logged in", logger.KeyUser, user.Login)
	s.reply(NewReply(230, "ok"))
	return nil
}

func cmdQuit(_ context.Context, s *Session, _ string) error {
	s.reply(NewReply(221, "bye"))
	return errQuit
}

func cmdPwd(_ context.Context, s *Session, _ string) error {
	cwd := s.conn.StringValue(SlotCurrentDir)
	s.reply(NewReply(257, fmt.Sprintf("%q", cwd)))
	return nil
}

func cmdCwd(_ context.Context, s *Session, arg string) error {
	s.conn.Set(SlotCurrentDir, s.resolve(arg))
	s.reply(NewReply(250, "ok"))
	return nil
}

func cmdCdup(ctx context.Context, s *Session, _ string) error {
	parent := vpath.Dir(s.conn.StringValue(SlotCurrentDir))
	s.conn.Set(SlotCurrentDir, parent)
	s.reply(NewReply(250, "ok"))
	return nil
}

func cmdMkd(ctx context.Context, s *Session, arg string) error {
	path := s.resolve(arg)
	if err := s.srv.vfs.Mkdir(ctx, path, false); err != nil {
		s.reply(replyForError(err))
		return nil
	}
	s.reply(NewReply(257, fmt.Sprintf("%q created", path)))
	return nil
}

func cmdRmd(ctx context.Context, s *Session, arg string) error {
	if err := s.srv.vfs.Rmdir(ctx, s.resolve(arg)); err != nil {
		s.reply(replyForError(err))
		return nil
	}
	s.reply(NewReply(250, "ok"))
	return nil
}

func cmdDele(ctx context.Context, s *Session, arg string) error {
	if err := s.srv.vfs.Unlink(ctx, s.resolve(arg)); err != nil {
		s.reply(replyForError(err))
		return nil
	}
	s.reply(NewReply(250, "ok"))
	return nil
}

func cmdRnfr(_ context.Context, s *Session, arg string) error {
	s.conn.Set(SlotRenameFrom, s.resolve(arg))
	s.reply(NewReply(350, "pending"))
	return nil
}

func cmdRnto(ctx context.Context, s *Session, arg string) error {
	src := s.conn.StringValue(SlotRenameFrom)
	s.conn.Clear(SlotRenameFrom)

	if err := s.srv.vfs.Rename(ctx, src, s.resolve(arg)); err != nil {
		s.reply(replyForError(err))
		return nil
	}
	s.reply(NewReply(250, "renamed"))
	return nil
}

func cmdSize(ctx context.Context, s *Session, arg string) error {
	node, err := s.srv.vfs.Stat(ctx, s.resolve(arg))
	if err != nil {
		s.reply(replyForError(err))
		return nil
	}
	s.reply(NewReply(213, strconv.FormatInt(node.Size, 10)))
	return nil
}

func cmdMdtm(ctx context.Context, s *Session, arg string) error {
	node, err := s.srv.vfs.Stat(ctx, s.resolve(arg))
	if err != nil {
		s.reply(replyForError(err))
		return nil
	}
	s.reply(NewReply(213, mdtmTime(node.MTime)))
	return nil
}

func cmdRest(_ context.Context, s *Session, arg string) error {
	offset, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || offset < 0 {
		s.reply(NewReply(501, "syntax error in parameters"))
		return nil
	}
	s.conn.Set(SlotRestart, offset)
	s.reply(NewReply(350, fmt.Sprintf("restarting at %d", offset)))
	return nil
}

func cmdSyst(_ context.Context, s *Session, _ string) error {
	s.reply(NewReply(215, "UNIX Type: L8"))
	return nil
}

func cmdFeat(_ context.Context, s *Session, _ string) error {
	s.reply(NewReply(211, "features:",
		"UTF8",
		"SIZE",
		"MDTM",
		"MLST type*;size*;modify*;perm*;unique*;unix.mode*;",
		"EPSV",
		"PASV",
		"end"))
	return nil
}

func cmdOpts(_ context.Context, s *Session, arg string) error {
	// Only "UTF8 ON" is recognized; everything is UTF-8 already.
	if strings.EqualFold(strings.TrimSpace(arg), "utf8 on") {
		s.reply(NewReply(200, "ok"))
		return nil
	}
	s.reply(NewReply(501, "opts not supported"))
	return nil
}

func cmdPasv(_ context.Context, s *Session, _ string) error {
	ps, err := s.ensurePassive()
	if err != nil {
		s.reply(NewReply(421, "no available port"))
		return nil
	}
	s.reply(pasvReply(s.advertisedHost(), ps.Port()))
	return nil
}

func cmdEpsv(_ context.Context, s *Session, _ string) error {
	ps, err := s.ensurePassive()
	if err != nil {
		s.reply(NewReply(421, "no available port"))
		return nil
	}
	s.reply(epsvReply(ps.Port()))
	return nil
}

// ensurePassive binds the session's passive listener on first use.
func (s *Session) ensurePassive() (*PassiveServer, error) {
	if v, ok := s.conn.Value(SlotPassive); ok {
		if ps, ok := v.(*PassiveServer); ok {
			return ps, nil
		}
	}
	ps, err := openPassive(s)
	if err != nil {
		return nil, err
	}
	s.conn.Set(SlotPassive, ps)
	return ps, nil
}

func cmdAbor(_ context.Context, s *Session, _ string) error {
	s.abortWorkers()
	s.reply(NewReply(226, "abor"))
	return nil
}

func cmdList(ctx context.Context, s *Session, arg string) error {
	path := s.resolve(arg)
	s.reply(NewReply(150, "listing"))

	s.spawnWorker("list", func(ctx context.Context) error {
		return s.sendListing(ctx, path, func(w io.Writer) error {
			nodes, err := s.srv.vfs.List(ctx, path)
			if err != nil {
				return err
			}
			now := time.Now()
			for _, node := range nodes {
				if _, err := fmt.Fprintf(w, "%s\r\n", formatListLine(node, now)); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return nil
}

func cmdMlsd(ctx context.Context, s *Session, arg string) error {
	path := s.resolve(arg)
	s.reply(NewReply(150, "listing"))

	s.spawnWorker("mlsd", func(ctx context.Context) error {
		return s.sendListing(ctx, path, func(w io.Writer) error {
			nodes, err := s.srv.vfs.List(ctx, path)
			if err != nil {
				return err
			}
			for _, node := range nodes {
				if _, err := fmt.Fprintf(w, "%s\r\n", formatMLSTFacts(node)); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return nil
}

// sendListing streams a directory rendering over the data connection and
// finishes the 150/226 pair.
func (s *Session) sendListing(ctx context.Context, path string, render func(io.Writer) error) error {
	data, ok := s.dataConn()
	if !ok {
		s.reply(NewReply(425, "no data connection"))
		return nil
	}
	defer data.Close()

	if err := render(data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	s.reply(NewReply(226, "done"))
	return nil
}

func cmdMlst(ctx context.Context, s *Session, arg string) error {
	node, err := s.srv.vfs.Stat(ctx, s.resolve(arg))
	if err != nil {
		s.reply(replyForError(err))
		return nil
	}
	s.reply(NewReply(250, "listing", formatMLSTFacts(node), "end"))
	return nil
}

func cmdStor(ctx context.Context, s *Session, arg string) error {
	path := s.resolve(arg)
	offset := s.restartOffset()

	// The parent must already exist as a directory; a store into the
	// void would create a node no listing ever reaches.
	parentOK, err := s.srv.vfs.IsDir(ctx, vpath.Dir(path))
	if err != nil {
		s.reply(replyForError(err))
		return nil
	}
	if !parentOK {
		s.reply(NewReply(550, "path invalid"))
		return nil
	}

	handle, err := s.srv.vfs.Open(ctx, path, vfs.ModeWrite)
	if err != nil {
		s.reply(replyForError(err))
		return nil
	}
	handle.SetOffset(offset)

	s.reply(NewReply(150, "storing"))

	s.spawnWorker("stor", func(ctx context.Context) error {
		data, ok := s.dataConn()
		if !ok {
			s.reply(NewReply(425, "no data connection"))
			return nil
		}
		defer data.Close()

		written, err := handle.WriteStream(ctx, data)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		logger.InfoCtx(s.ctx, "Stored file",
			logger.KeyPath, path,
			logger.KeySize, written)
		s.reply(NewReply(226, "transfer complete"))
		return nil
	})
	return nil
}

func cmdRetr(ctx context.Context, s *Session, arg string) error {
	path := s.resolve(arg)
	offset := s.restartOffset()

	handle, err := s.srv.vfs.Open(ctx, path, vfs.ModeRead)
	if err != nil {
		s.reply(replyForError(err))
		return nil
	}
	handle.SetOffset(offset)

	s.reply(NewReply(150, "download starting"))

	s.spawnWorker("retr", func(ctx context.Context) error {
		data, ok := s.dataConn()
		if !ok {
			s.reply(NewReply(425, "no data connection"))
			return nil
		}
		defer data.Close()

		rc, err := handle.Stream(ctx)
		if err != nil {
			return err
		}
		defer rc.Close()

		sent, err := copyCancellable(ctx, data, rc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		metrics.BytesDownloaded.Add(float64(sent))
		s.reply(NewReply(226, "transfer complete"))
		return nil
	})
	return nil
}

// copyCancellable copies in 1 MiB blocks, checking the context between
// blocks.
func copyCancellable(ctx context.Context, dst net.Conn, src io.Reader) (int64, error) {
	buf := make([]byte, 1<<20)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
