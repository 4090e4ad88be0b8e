package caldera

import (
	"errors"
	"fmt"
)

var (
	ErrNoNodesAvailable = errors.New("no nodes available")
	ErrConnectTimeout   = errors.New("timed out waiting for a voice session")
	ErrNoConnectHandler = errors.New("client has no connect handler")

	ErrTransportNotOpen = errors.New("transport is not open")

	ErrInvalidTrackMagic       = errors.New("track data is not a versioned message")
	ErrUnsupportedTrackVersion = errors.New("unsupported track data version")

	ErrPlayerDestroyed = errors.New("player has been destroyed")
)

// RequestError is returned when a node's REST endpoint responds with a
// non-2xx status code.
type RequestError struct {
	Status     string
	StatusCode int
}

func (e RequestError) Error() string {
	return fmt.Sprintf("request failed: %s", e.Status)
}
