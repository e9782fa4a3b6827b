package ftp

import (
	"errors"
	"fmt"
	"net"

	"github.com/marmos91/nebulaftp/internal/logger"
)

// ErrNoAvailablePort is returned when every port in the configured
// passive range is taken.
var ErrNoAvailablePort = errors.New("no available passive port")

// PassiveServer is the per-session data-channel listener. Each client
// connection is adopted into the data slot, where the next transfer
// worker claims it; a connection arriving while one is still waiting
// unclaimed is closed.
type PassiveServer struct {
	listener net.Listener
	port     int
	session  *Session
}

// openPassive binds the session's passive listener, scanning the
// configured port range or falling back to an ephemeral port.
func openPassive(s *Session) (*PassiveServer, error) {
	var (
		listener net.Listener
		err      error
	)

	if s.srv.cfg.PassivePortLow > 0 {
		for port := s.srv.cfg.PassivePortLow; port <= s.srv.cfg.PassivePortHigh; port++ {
			listener, err = net.Listen("tcp", fmt.Sprintf("%s:%d", s.srv.cfg.BindHost, port))
			if err == nil {
				break
			}
			listener = nil
		}
		if listener == nil {
			return nil, ErrNoAvailablePort
		}
	} else {
		listener, err = net.Listen("tcp", fmt.Sprintf("%s:0", s.srv.cfg.BindHost))
		if err != nil {
			return nil, fmt.Errorf("bind passive listener: %w", err)
		}
	}

	ps := &PassiveServer{
		listener: listener,
		port:     listener.Addr().(*net.TCPAddr).Port,
		session:  s,
	}
	go ps.acceptLoop()
	return ps, nil
}

// Port returns the advertised port.
func (ps *PassiveServer) Port() int { return ps.port }

// Close stops the listener.
func (ps *PassiveServer) Close() error {
	return ps.listener.Close()
}

// acceptLoop adopts connections into the data slot. Workers take the
// connection out of the slot when they claim it, so a transfer in
// flight never blocks the adoption of the next connection.
func (ps *PassiveServer) acceptLoop() {
	for {
		c, err := ps.listener.Accept()
		if err != nil {
			return
		}
		if _, taken := ps.session.conn.Value(SlotData); taken {
			logger.DebugCtx(ps.session.ctx, "Extra data connection closed",
				logger.KeyClientIP, c.RemoteAddr().String())
			c.Close()
			continue
		}
		ps.session.conn.Set(SlotData, c)
	}
}

// advertisedHost picks the address clients should dial: the masquerade
// address when configured, otherwise the control connection's local IP.
func (s *Session) advertisedHost() string {
	if s.srv.cfg.MasqueradeAddress != "" {
		return s.srv.cfg.MasqueradeAddress
	}
	if addr, ok := s.ctrl.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return s.srv.cfg.BindHost
}

// pasvReply renders the 227 address tuple.
func pasvReply(host string, port int) Reply {
	ip := net.ParseIP(host).To4()
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1).To4()
	}
	return NewReply(227, fmt.Sprintf("entering pasv (%d,%d,%d,%d,%d,%d)",
		ip[0], ip[1], ip[2], ip[3], port>>8, port&0xff))
}

// epsvReply renders the 229 port tuple.
func epsvReply(port int) Reply {
	return NewReply(229, fmt.Sprintf("entering epsv (|||%d|)", port))
}
