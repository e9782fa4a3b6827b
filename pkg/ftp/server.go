package ftp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/marmos91/nebulaftp/internal/logger"
	"github.com/marmos91/nebulaftp/pkg/metrics"
	"github.com/marmos91/nebulaftp/pkg/vfs"
)

// defaultMaxConnections caps concurrent control connections server-wide.
const defaultMaxConnections = 256

// Config holds the FTP listener settings.
type Config struct {
	// BindHost is the address the control and passive listeners bind to.
	BindHost string
	// BindPort is the control channel port.
	BindPort int

	// PassivePortLow and PassivePortHigh bound the passive data-channel
	// port range. A zero low bound means ephemeral ports.
	PassivePortLow  int
	PassivePortHigh int

	// MasqueradeAddress, when set, is advertised in PASV replies instead
	// of the control connection's local address. Needed behind NAT.
	MasqueradeAddress string

	// MaxConnections caps concurrent sessions server-wide.
	MaxConnections int
}

// Server accepts FTP control connections and runs one Session per
// connection against the shared virtual filesystem.
type Server struct {
	cfg  Config
	auth *Authenticator
	vfs  *vfs.VFS

	commands map[string]command

	listener net.Listener
	active   atomic.Int64

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewServer builds a server. The listener is bound by Serve.
func NewServer(cfg Config, auth *Authenticator, fs *vfs.VFS) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	return &Server{
		cfg:      cfg,
		auth:     auth,
		vfs:      fs,
		commands: commandTable(),
		sessions: make(map[string]*Session),
	}
}

// Serve binds the control listener and accepts sessions until ctx is
// cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindHost, s.cfg.BindPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind control listener on %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()

	logger.Info("FTP server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		if s.active.Load() >= int64(s.cfg.MaxConnections) {
			conn.Write([]byte(formatReply(NewReply(421, "too many connections"))))
			conn.Close()
			continue
		}

		s.active.Add(1)
		metrics.SessionsActive.Inc()
		metrics.SessionsTotal.Inc()

		go s.handleConn(conn)
	}
}

// Addr returns the bound control address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the listener and tears down every live session.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, sess := range live {
		sess.teardown()
	}
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	sess := newSession(s, conn, uuid.NewString())

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	defer func() {
		sess.teardown()

		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()

		s.active.Add(-1)
		metrics.SessionsActive.Dec()
	}()

	logger.DebugCtx(sess.ctx, "Session opened",
		logger.KeySessionID, sess.id,
		logger.KeyClientIP, conn.RemoteAddr().String())

	sess.reply(NewReply(220, "ready"))
	s.dispatchLoop(sess)

	logger.DebugCtx(sess.ctx, "Session closed", logger.KeySessionID, sess.id)
}

// dispatchLoop reads control-channel lines and runs one command at a
// time. Data transfers run in workers so ABOR and further control
// traffic stay responsive.
func (s *Server) dispatchLoop(sess *Session) {
	reader := bufio.NewReader(sess.ctrl)

	for {
		raw, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		verb, arg := parseCommand(decodeLine(raw))
		if verb == "" {
			continue
		}
		metrics.CommandsTotal.WithLabelValues(verb).Inc()

		logger.DebugCtx(sess.ctx, "Command received",
			logger.KeySessionID, sess.id,
			logger.KeyCommand, verb)

		cmd, ok := s.commands[verb]
		if !ok {
			sess.reply(NewReply(502, "not implemented"))
			continue
		}

		// A REST offset only survives into the transfer that consumes
		// it; any intervening command discards it.
		if !cmd.keepsRestart {
			sess.conn.Clear(SlotRestart)
		}

		if reply := checkConditions(sess, cmd, arg); reply != nil {
			sess.reply(*reply)
			continue
		}

		switch err := cmd.handler(sess.ctx, sess, arg); {
		case err == nil:
		case errors.Is(err, errQuit):
			return
		default:
			logger.WarnCtx(sess.ctx, "Command failed",
				logger.KeyCommand, verb,
				logger.KeyError, err.Error())
			sess.reply(replyForError(err))
		}
	}
}

func checkConditions(sess *Session, cmd command, arg string) *Reply {
	for _, cond := range cmd.conditions {
		if reply := cond(sess.ctx, sess, arg); reply != nil {
			return reply
		}
	}
	return nil
}
