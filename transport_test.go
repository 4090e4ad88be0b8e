package caldera

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTransportSendBeforeOpen(t *testing.T) {
	t.Parallel()

	transport := NewTransport("ws://localhost:2333", http.Header{}, zerolog.Nop())

	err := transport.SendJSON(context.Background(), map[string]string{"op": "seek"})
	assert.ErrorIs(t, err, ErrTransportNotOpen)
}

func TestTransportCloseBeforeOpen(t *testing.T) {
	t.Parallel()

	transport := NewTransport("ws://localhost:2333", http.Header{}, zerolog.Nop())

	closed := false

	transport.OnClose(func(code int, reason string, byRemote bool) {
		closed = true
	})

	assert.NoError(t, transport.Close(1000, "shutting down"))
	assert.False(t, closed, "a transport that never opened has nothing to report")
}
