package listener

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gelflistener/internal/gelf"
)

func dialUDP(t *testing.T, l Listener) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, l.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestUDP_PublishesDatagram(t *testing.T) {
	h := newHarness()
	l := startListener(t, ProtocolUDP, Options{}, h.dispatcher)

	conn := dialUDP(t, l)
	_, err := conn.Write([]byte(sample))
	require.NoError(t, err)

	recs := h.rec.WaitFor(1, 2*time.Second)
	require.Len(t, recs, 1)

	payload := decodePayload(t, recs[0])
	assert.Equal(t, "hi", payload["short_message"])
	assert.Equal(t, conn.LocalAddr().String(), payload[gelf.SourceField])
	assert.Equal(t, recs[0].Key, payload[gelf.KeyField])
}

func TestUDP_GzipDatagram(t *testing.T) {
	h := newHarness()
	l := startListener(t, ProtocolUDP, Options{}, h.dispatcher)

	conn := dialUDP(t, l)
	_, err := conn.Write(gzipBytes(t, []byte(sample)))
	require.NoError(t, err)

	recs := h.rec.WaitFor(1, 2*time.Second)
	require.Len(t, recs, 1)
	assert.Equal(t, "h", decodePayload(t, recs[0])["host"])
}

func TestUDP_EmptyAndInvalidDatagramsDoNotStopLoop(t *testing.T) {
	h := newHarness()
	l := startListener(t, ProtocolUDP, Options{}, h.dispatcher)

	conn := dialUDP(t, l)
	_, err := conn.Write([]byte{})
	require.NoError(t, err)
	_, err = conn.Write([]byte("{broken"))
	require.NoError(t, err)
	h.waitFailures(t, 2)

	_, err = conn.Write([]byte(sample))
	require.NoError(t, err)
	assert.Len(t, h.rec.WaitFor(1, 2*time.Second), 1)
}

func TestUDP_DropsOversizedDatagram(t *testing.T) {
	h := newHarness()
	l := startListener(t, ProtocolUDP, Options{MaxFrameSize: 16}, h.dispatcher)

	conn := dialUDP(t, l)
	_, err := conn.Write([]byte(sample))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"a":1}`))
	require.NoError(t, err)

	recs := h.rec.WaitFor(1, 2*time.Second)
	require.Len(t, recs, 1)
	assert.Equal(t, float64(1), decodePayload(t, recs[0])["a"])
}
