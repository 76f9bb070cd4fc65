package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendToRejectsEmbeddedNewline(t *testing.T) {
	s, err := Bind("127.0.0.1:0", 8)
	require.NoError(t, err)
	defer s.Close()

	err = s.SendTo([]byte("bad\npayload"), "127.0.0.1:1")
	assert.ErrorIs(t, err, errInvalidPayload)
}

func TestSendToAndRecvFromDeliversLine(t *testing.T) {
	server, err := Bind("127.0.0.1:0", 8)
	require.NoError(t, err)
	defer server.Close()

	client, err := Bind("127.0.0.1:0", 8)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SendTo([]byte(`{"hello":"world"}`), server.Addr().String()))

	buf := make([]byte, MaxLineSize)
	n, from, err := server.RecvFrom(buf, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(buf[:n]))
	assert.NotEmpty(t, from)
}

func TestRecvFromTimesOutWithNoData(t *testing.T) {
	s, err := Bind("127.0.0.1:0", 8)
	require.NoError(t, err)
	defer s.Close()

	buf := make([]byte, MaxLineSize)
	_, _, err = s.RecvFrom(buf, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestSendToReusesSingleConnectionPerPeer(t *testing.T) {
	server, err := Bind("127.0.0.1:0", 8)
	require.NoError(t, err)
	defer server.Close()

	client, err := Bind("127.0.0.1:0", 8)
	require.NoError(t, err)
	defer client.Close()

	addr := server.Addr().String()
	require.NoError(t, client.SendTo([]byte("one"), addr))
	require.NoError(t, client.SendTo([]byte("two"), addr))

	client.mu.Lock()
	tokenCount := len(client.addrToToken)
	client.mu.Unlock()
	assert.Equal(t, 1, tokenCount)

	buf := make([]byte, MaxLineSize)
	_, _, err = server.RecvFrom(buf, 2*time.Second)
	require.NoError(t, err)
	_, _, err = server.RecvFrom(buf, 2*time.Second)
	require.NoError(t, err)
}

func TestSendToExhaustedTokenPoolReturnsResourceExhausted(t *testing.T) {
	client, err := Bind("127.0.0.1:0", 1)
	require.NoError(t, err)
	defer client.Close()

	serverA, err := Bind("127.0.0.1:0", 8)
	require.NoError(t, err)
	defer serverA.Close()
	serverB, err := Bind("127.0.0.1:0", 8)
	require.NoError(t, err)
	defer serverB.Close()

	require.NoError(t, client.SendTo([]byte("hi"), serverA.Addr().String()))
	err = client.SendTo([]byte("hi"), serverB.Addr().String())
	assert.ErrorIs(t, err, ErrResourceExhausted)
}
