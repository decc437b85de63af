package socket

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSharesConnection(t *testing.T) {
	srv := startStub(t, func(_ string, ws *websocket.Conn) { holdOpen(ws) })
	r := NewRegistry(discardLogger(), nil)

	h1, err := r.Acquire(srv.URL, testOptions())
	require.NoError(t, err)
	h2, err := r.Acquire(srv.URL, testOptions())
	require.NoError(t, err)

	require.Same(t, h1.Conn(), h2.Conn(), "same endpoint must share one connection")

	h1.Release()
	assert.False(t, h1.Conn().isClosed(), "connection must survive while a handle remains")

	h2.Release()
	assert.True(t, h2.Conn().isClosed(), "last release must close the connection")
}

func TestReleaseIdempotent(t *testing.T) {
	srv := startStub(t, func(_ string, ws *websocket.Conn) { holdOpen(ws) })
	r := NewRegistry(discardLogger(), nil)

	h1, err := r.Acquire(srv.URL, testOptions())
	require.NoError(t, err)
	h2, err := r.Acquire(srv.URL, testOptions())
	require.NoError(t, err)

	h1.Release()
	h1.Release()

	assert.False(t, h2.Conn().isClosed(), "double release must not steal the remaining reference")
	h2.Release()
	assert.True(t, h2.Conn().isClosed())
}

func TestAcquireEndpointSwitch(t *testing.T) {
	srvA := startStub(t, func(_ string, ws *websocket.Conn) { holdOpen(ws) })
	srvB := startStub(t, func(_ string, ws *websocket.Conn) { holdOpen(ws) })
	r := NewRegistry(discardLogger(), nil)

	hA, err := r.Acquire(srvA.URL, testOptions())
	require.NoError(t, err)
	hB, err := r.Acquire(srvB.URL, testOptions())
	require.NoError(t, err)

	assert.True(t, hA.Conn().isClosed(), "endpoint switch must tear the previous connection down")
	assert.False(t, hB.Conn().isClosed())

	// The orphaned handle must not disturb the new connection.
	hA.Release()
	assert.False(t, hB.Conn().isClosed())

	hB.Release()
	assert.True(t, hB.Conn().isClosed())
}

func TestAcquireDeadEndpointStillReturnsHandle(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)

	h, err := r.Acquire("http://localhost:1", testOptions())
	require.NoError(t, err, "dialing is asynchronous, acquire must not fail")
	require.NotNil(t, h.Conn())
	assert.False(t, h.Conn().State().Connected)
	h.Release()
}

func TestAcquireInvalidConfig(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)

	opts := testOptions()
	opts.Transports = []string{"polling"}
	_, err := r.Acquire("http://localhost:8000", opts)
	require.Error(t, err, "non-websocket transport must be rejected")

	_, err = r.Acquire("ftp://localhost:8000", testOptions())
	require.Error(t, err, "non-http endpoint scheme must be rejected")
}
