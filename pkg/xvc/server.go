// Package xvc implements the Xilinx Virtual Cable TCP protocol server (C5):
// a byte-oriented, one-session-at-a-time bridge between a network client
// (typically Vivado's hardware manager) and the JTAG façade.
package xvc

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/OpenTraceLab/xvcjtag/pkg/jtagcore"
)

// BufSize is the maximum number of TMS/TDI bytes the server accepts in a
// single shift command, and the value advertised in the getinfo response.
const BufSize = 2048

// SocketError reports a failure setting up or accepting on the listening
// socket.
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string { return fmt.Sprintf("xvc: %s: %v", e.Op, e.Err) }
func (e *SocketError) Unwrap() error { return e.Err }

// Server bridges XVC TCP sessions to a JTAG façade. It serves one connection
// to completion before accepting the next, matching a hardware JTAG probe
// that cannot usefully multiplex concurrent sessions.
type Server struct {
	facade *jtagcore.Facade
	logger *log.Logger
}

// New constructs a Server. If logger is nil, log.Default() is used.
func New(facade *jtagcore.Facade, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{facade: facade, logger: logger}
}

// ListenAndServe binds a TCP listener and serves XVC sessions until Accept
// fails. iface selects the bind address: a value starting with "-" binds all
// interfaces (0.0.0.0), matching the probe's "no dedicated interface"
// convention; anything else is parsed as a literal IPv4/IPv6 address.
func (s *Server) ListenAndServe(iface string, port int) error {
	addr, err := resolveBindAddress(iface, port)
	if err != nil {
		return &SocketError{Op: "resolve", Err: err}
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return &SocketError{Op: "listen", Err: err}
	}
	defer ln.Close()

	s.logger.Printf("xvc: listening on %s (xvcServer_v1.0, buffer %d bytes)", addr, BufSize)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return &SocketError{Op: "accept", Err: err}
		}
		s.handle(conn)
	}
}

func resolveBindAddress(iface string, port int) (string, error) {
	if len(iface) > 0 && iface[0] == '-' {
		return net.JoinHostPort("0.0.0.0", strconv.Itoa(port)), nil
	}
	ip := net.ParseIP(iface)
	if ip == nil {
		return "", fmt.Errorf("bad bind address %q", iface)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port)), nil
}

// setReuseAddr sets SO_REUSEADDR on the listening socket so a restarted
// daemon can rebind immediately instead of waiting out TIME_WAIT.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
