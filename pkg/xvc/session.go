package xvc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/OpenTraceLab/xvcjtag/pkg/jtagcore"
)

// ProtocolError reports a malformed XVC command. The session that produced
// it is closed; the server itself keeps running and accepts the next
// connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("xvc: protocol error: %s", e.Reason) }

type session struct {
	conn   net.Conn
	r      *bufio.Reader
	facade *jtagcore.Facade
	logger *log.Logger

	bitCount   uint64
	shiftCount uint64
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	sess := &session{
		conn:   conn,
		r:      bufio.NewReader(conn),
		facade: s.facade,
		logger: s.logger,
	}

	for {
		tag, err := sess.r.ReadByte()
		if err != nil {
			if err != io.EOF {
				s.logger.Printf("xvc: session %s: read error: %v", conn.RemoteAddr(), err)
			}
			return
		}

		var sessErr error
		switch tag {
		case 'g':
			sessErr = sess.getInfo()
		case 's':
			sessErr = sess.dispatchS()
		default:
			sessErr = &ProtocolError{Reason: fmt.Sprintf("unexpected command byte %q", tag)}
		}

		if sessErr != nil {
			s.logger.Printf("xvc: session %s: %v", conn.RemoteAddr(), sessErr)
			return
		}
	}
}

func (s *session) dispatchS() error {
	second, err := s.r.ReadByte()
	if err != nil {
		return err
	}
	switch second {
	case 'e': // "settck:"
		if err := s.expect("ttck:"); err != nil {
			return err
		}
		return s.settck()
	case 'h': // "shift:"
		if err := s.expect("ift:"); err != nil {
			return err
		}
		return s.shift()
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unexpected command byte 's%c'", second)}
	}
}

func (s *session) expect(literal string) error {
	buf := make([]byte, len(literal))
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return err
	}
	if string(buf) != literal {
		return &ProtocolError{Reason: fmt.Sprintf("expected %q, got %q", literal, buf)}
	}
	return nil
}

// getInfo replies to "getinfo:" with the server identification string and
// the maximum shift size this server accepts.
func (s *session) getInfo() error {
	if err := s.expect("etinfo:"); err != nil {
		return err
	}
	return s.reply([]byte(fmt.Sprintf("xvcServer_v1.0:%d\n", BufSize)))
}

// settck acknowledges the requested TCK period without reconfiguring the
// adapter's actual clock, echoing the same 4 bytes back. This mirrors the
// reference XVC server, whose clock rate is fixed by the system/adapter
// configuration rather than negotiated per session.
func (s *session) settck() error {
	raw, err := s.fetch32()
	if err != nil {
		return err
	}
	return s.reply32(raw)
}

// shift implements the XVC "shift:<nbits><tms bytes><tdi bytes>" command: it
// drives TMS and TDI simultaneously via the probe's raw bypass path (not the
// TAP engine's planner, since the client supplies its own TMS pattern) and
// replies with the captured TDO bytes.
func (s *session) shift() error {
	nBits, err := s.fetch32()
	if err != nil {
		return err
	}
	nBytes := int((nBits + 7) / 8)
	if nBytes > BufSize {
		return &ProtocolError{Reason: fmt.Sprintf("shift of %d bytes exceeds buffer size %d", nBytes, BufSize)}
	}

	tms := make([]byte, nBytes)
	if _, err := io.ReadFull(s.r, tms); err != nil {
		return err
	}
	tdi := make([]byte, nBytes)
	if _, err := io.ReadFull(s.r, tdi); err != nil {
		return err
	}
	tdo := make([]byte, nBytes)

	if err := s.facade.Probe().WriteTMSTDI(tms, tdi, tdo, int(nBits)); err != nil {
		return err
	}

	// The TAP engine's committed state was bypassed by the raw WriteTMSTDI
	// call above; resync it by simulating the TMS pattern we just drove so
	// later shiftDR/shiftIR calls on this connection see a consistent state.
	s.facade.Resync(s.facade.CalculateTMSBuffer(tms, int(nBits)))

	s.bitCount += uint64(nBits)
	s.shiftCount++

	return s.reply(tdo)
}

func (s *session) reply(data []byte) error {
	_, err := s.conn.Write(data)
	return err
}

func (s *session) fetch32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(s.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (s *session) reply32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return s.reply(buf[:])
}
