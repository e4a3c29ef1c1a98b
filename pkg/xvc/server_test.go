package xvc

import (
	"bufio"
	"encoding/binary"
	"io"
	"log"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/xvcjtag/pkg/jtagcore"
	"github.com/OpenTraceLab/xvcjtag/pkg/probe"
)

// newTestSession wires a Server's handle method to one end of an in-memory
// net.Pipe, letting the protocol be exercised without a real socket.
func newTestSession(t *testing.T) (client net.Conn, facade *jtagcore.Facade, sim *probe.SimProbe) {
	t.Helper()
	sim = probe.NewSimProbe(probe.Info{Name: "sim"})
	facade = jtagcore.New(sim)
	s := New(facade, log.New(io.Discard, "", 0))

	client, server := net.Pipe()
	go s.handle(server)
	t.Cleanup(func() { client.Close() })
	return client, facade, sim
}

func TestGetInfo(t *testing.T) {
	client, _, _ := newTestSession(t)

	_, err := client.Write([]byte("getinfo:"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "xvcServer_v1.0:2048\n", line)
}

func TestSettckEchoesRequestedPeriod(t *testing.T) {
	client, _, _ := newTestSession(t)

	var req [4]byte
	binary.LittleEndian.PutUint32(req[:], 100)

	_, err := client.Write([]byte("settck:"))
	require.NoError(t, err)
	_, err = client.Write(req[:])
	require.NoError(t, err)

	var resp [4]byte
	_, err = io.ReadFull(client, resp[:])
	require.NoError(t, err)
	assert.Equal(t, req, resp)
}

func TestShiftLoopsBackTDI(t *testing.T) {
	client, _, _ := newTestSession(t)

	nBits := uint32(8)
	var nBitsBuf [4]byte
	binary.LittleEndian.PutUint32(nBitsBuf[:], nBits)

	_, err := client.Write([]byte("shift:"))
	require.NoError(t, err)
	_, err = client.Write(nBitsBuf[:])
	require.NoError(t, err)
	_, err = client.Write([]byte{0x00}) // tms
	require.NoError(t, err)
	_, err = client.Write([]byte{0xA5}) // tdi
	require.NoError(t, err)

	tdo := make([]byte, 1)
	_, err = io.ReadFull(client, tdo)
	require.NoError(t, err)
	assert.Equal(t, byte(0xA5), tdo[0])
}

func TestShiftRejectsOversizedBuffer(t *testing.T) {
	client, _, _ := newTestSession(t)

	var nBitsBuf [4]byte
	binary.LittleEndian.PutUint32(nBitsBuf[:], uint32(BufSize+1)*8)

	_, err := client.Write([]byte("shift:"))
	require.NoError(t, err)
	_, err = client.Write(nBitsBuf[:])
	require.NoError(t, err)

	// The session closes the connection rather than reading the (never sent)
	// TMS/TDI payload; the client sees EOF on its next read.
	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnknownCommandClosesSession(t *testing.T) {
	client, _, _ := newTestSession(t)

	_, err := client.Write([]byte("bogus:"))
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestResolveBindAddress(t *testing.T) {
	addr, err := resolveBindAddress("-", 2542)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:2542", addr)

	addr, err = resolveBindAddress("127.0.0.1", 2542)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2542", addr)

	_, err = resolveBindAddress("not-an-ip", 2542)
	assert.Error(t, err)
}
