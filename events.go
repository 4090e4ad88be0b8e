package caldera

import (
	"strings"
	"sync"
	"time"
)

// Event names published by nodes, derived from the wire event types.
const (
	EventTrackStart      = "track_start"
	EventTrackEnd        = "track_end"
	EventTrackException  = "track_exception"
	EventTrackStuck      = "track_stuck"
	EventWebSocketClosed = "websocket_closed"
)

// eventNameOverrides pins published names that the mechanical transform
// would get wrong. The wire spells it "WebSocketClosedEvent" but the
// published name treats websocket as one word.
var eventNameOverrides = map[string]string{
	"WebSocketClosedEvent": EventWebSocketClosed,
}

// NormalizeEventType converts a wire event type into its published
// snake_case name: a trailing "Event" suffix is stripped, an underscore is
// inserted before each internal capital and the result is lower cased.
// "TrackStartEvent" becomes "track_start".
func NormalizeEventType(wireType string) string {
	if name, ok := eventNameOverrides[wireType]; ok {
		return name
	}

	trimmed := strings.TrimSuffix(wireType, "Event")

	var b strings.Builder

	b.Grow(len(trimmed) + 4)

	for i, r := range trimmed {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}

		b.WriteRune(r)
	}

	return strings.ToLower(b.String())
}

// TrackStartEvent is published when a node starts playing a track.
type TrackStartEvent struct {
	Player       *Player
	EncodedTrack string
	// Track is the decoded handle, nil if decoding failed.
	Track *Track
}

// TrackEndEvent is published when a track stops playing.
type TrackEndEvent struct {
	Player       *Player
	EncodedTrack string
	Track        *Track
	Reason       TrackEndReason
}

// TrackExceptionEvent is published when a track throws on the node.
type TrackExceptionEvent struct {
	Player       *Player
	EncodedTrack string
	Track        *Track
	Error        string
}

// TrackStuckEvent is published when a track produces no audio for longer
// than the node's stuck threshold.
type TrackStuckEvent struct {
	Player       *Player
	EncodedTrack string
	Track        *Track
	Threshold    time.Duration
}

// WebSocketClosedEvent is published when the voice websocket between the
// node and the voice server closes. This is about the audio connection, not
// this client's transport.
type WebSocketClosedEvent struct {
	Player   *Player
	GuildID  string
	Code     int
	Reason   string
	ByRemote bool
}

// PlayerUpdateEvent is published when a node reports playback progress.
type PlayerUpdateEvent struct {
	Player   *Player
	Time     time.Time
	Position time.Duration
}

// StatsEvent is published when a node pushes a statistics snapshot.
type StatsEvent struct {
	Node  *Node
	Stats Stats
}

// handlerList is an append-only list of subscribers for one event kind.
// Dispatch runs subscribers inline on the emitting goroutine, in
// registration order.
type handlerList[T any] struct {
	mu  sync.RWMutex
	fns []func(T)
}

func (h *handlerList[T]) add(fn func(T)) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *handlerList[T]) emit(event T) {
	h.mu.RLock()
	fns := h.fns
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}
