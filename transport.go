package caldera

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/WelcomerTeam/czlib"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"nhooyr.io/websocket"
)

const websocketReadLimit = 512 << 20

// Transport is a single websocket connection to a node. It performs the
// handshake with the required headers, negotiates permessage-deflate and
// runs a dedicated read loop that feeds decoded frames to the message
// handler until the connection is marked dead.
//
// Handlers must be registered before Open and are invoked inline on the
// read loop goroutine.
type Transport struct {
	logger zerolog.Logger

	url    string
	header http.Header

	ctx    context.Context
	cancel func()

	wsConnMu sync.RWMutex
	wsConn   *websocket.Conn

	// dead transitions false to true exactly once per connection. The side
	// that wins the transition delivers the close notification.
	dead *atomic.Bool

	onOpen    func()
	onMessage func(payload ReceivedPayload)
	onClose   func(code int, reason string, byRemote bool)
}

// NewTransport creates a transport for the given websocket url. The header
// must carry the Authorization, Num-Shards and User-Id handshake values.
func NewTransport(url string, header http.Header, logger zerolog.Logger) *Transport {
	return &Transport{
		logger: logger,
		url:    url,
		header: header,
		dead:   atomic.NewBool(true),
	}
}

// URL returns the websocket url this transport connects to.
func (t *Transport) URL() string {
	return t.url
}

// OnOpen registers the handler invoked once the handshake completes.
func (t *Transport) OnOpen(fn func()) {
	t.onOpen = fn
}

// OnMessage registers the handler invoked for every decoded inbound frame.
func (t *Transport) OnMessage(fn func(payload ReceivedPayload)) {
	t.onMessage = fn
}

// OnClose registers the handler invoked when the connection dies. byRemote
// reports whether the peer initiated the closure.
func (t *Transport) OnClose(fn func(code int, reason string, byRemote bool)) {
	t.onClose = fn
}

// Open dials the node and starts the read loop.
func (t *Transport) Open(ctx context.Context) error {
	t.logger.Debug().Str("url", t.url).Msg("Opening connection")

	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPHeader:      t.header,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	conn.SetReadLimit(websocketReadLimit)

	t.wsConnMu.Lock()
	t.wsConn = conn
	t.wsConnMu.Unlock()

	t.dead.Store(false)
	t.ctx, t.cancel = context.WithCancel(context.Background())

	go t.readLoop(t.ctx, conn)

	t.logger.Info().Str("url", t.url).Msg("Connection opened")

	if t.onOpen != nil {
		t.onOpen()
	}

	return nil
}

// readLoop feeds inbound frames to the message handler until the connection
// is marked dead.
func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for !t.dead.Load() {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			t.handleReadError(err)

			return
		}

		if messageType == websocket.MessageBinary {
			data, err = czlib.Decompress(data)
			if err != nil {
				t.logger.Error().Err(err).Msg("Failed to decompress frame")

				continue
			}
		}

		op := jsoniter.Get(data, "op").ToString()
		if op == "" {
			t.logger.Warn().Bytes("data", data).Msg("Received frame without op")

			continue
		}

		t.logger.Trace().Msg(">>> " + string(data))

		if t.onMessage != nil {
			t.onMessage(ReceivedPayload{Op: Op(op), Data: data})
		}
	}
}

// handleReadError marks the connection dead and delivers the close
// notification, unless Close already did.
func (t *Transport) handleReadError(err error) {
	if !t.dead.CompareAndSwap(false, true) {
		return
	}

	t.cancel()

	code := -1
	reason := ""

	var closeError websocket.CloseError
	if errors.As(err, &closeError) {
		code = int(closeError.Code)
		reason = closeError.Reason

		t.logger.Warn().Int("code", code).Str("reason", reason).Msg("Received close frame")
	} else {
		t.logger.Error().Err(err).Msg("Error reading from websocket")
	}

	t.wsConnMu.Lock()
	t.wsConn = nil
	t.wsConnMu.Unlock()

	if t.onClose != nil {
		t.onClose(code, reason, true)
	}
}

// SendJSON serializes v and sends it as a text frame.
func (t *Transport) SendJSON(ctx context.Context, v interface{}) error {
	t.wsConnMu.RLock()
	conn := t.wsConn
	t.wsConnMu.RUnlock()

	if conn == nil || t.dead.Load() {
		return ErrTransportNotOpen
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	t.logger.Trace().Msg("<<< " + string(data))

	if err = conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// Close sends a close frame and marks the connection dead. The close
// notification is delivered with byRemote false.
func (t *Transport) Close(code websocket.StatusCode, reason string) error {
	if !t.dead.CompareAndSwap(false, true) {
		return nil
	}

	t.logger.Debug().Int("code", int(code)).Str("reason", reason).Msg("Closing connection")

	t.cancel()

	t.wsConnMu.Lock()
	conn := t.wsConn
	t.wsConn = nil
	t.wsConnMu.Unlock()

	var err error

	if conn != nil {
		if err = conn.Close(code, reason); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Warn().Err(err).Msg("Failed to close websocket connection")
		}
	}

	if t.onClose != nil {
		t.onClose(int(code), reason, false)
	}

	return err
}
