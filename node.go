package caldera

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"nhooyr.io/websocket"
)

const restRequestTimeout = 10 * time.Second

// Search identifier prefixes understood by nodes.
const (
	searchPrefixYouTube    = "ytsearch:"
	searchPrefixSoundCloud = "scsearch:"
)

// NodeConfiguration configures a single node connection.
type NodeConfiguration struct {
	// Name identifies the node in logs and metrics.
	Name string `json:"name" yaml:"name"`

	// Host is the address of the node, such as "localhost:2333".
	Host string `json:"host" yaml:"host"`

	// Authorization is the password matching the node's configuration.
	Authorization string `json:"authorization" yaml:"authorization"`

	// Secure toggles wss/https over ws/http.
	Secure bool `json:"secure" yaml:"secure"`
}

// nodeTransport is the connection surface a node drives. Satisfied by
// *Transport.
type nodeTransport interface {
	Open(ctx context.Context) error
	SendJSON(ctx context.Context, v interface{}) error
	Close(code websocket.StatusCode, reason string) error
	URL() string
	OnOpen(fn func())
	OnMessage(fn func(payload ReceivedPayload))
	OnClose(fn func(code int, reason string, byRemote bool))
}

// Node is one remote audio processing server. It owns the transport to that
// server, demultiplexes its pushed frames and offers the REST surface for
// track resolution.
type Node struct {
	Logger zerolog.Logger

	client *Client

	configuration NodeConfiguration

	transport nodeTransport
	http      *http.Client
	restURL   string

	available *atomic.Bool

	statsMu sync.RWMutex
	stats   *Stats

	statsHandlers handlerList[*StatsEvent]
}

func newNode(client *Client, configuration NodeConfiguration) *Node {
	scheme := "ws"
	restScheme := "http"

	if configuration.Secure {
		scheme = "wss"
		restScheme = "https"
	}

	node := &Node{
		Logger: client.Logger.With().Str("node", configuration.Name).Logger(),

		client:        client,
		configuration: configuration,

		http:    &http.Client{Timeout: restRequestTimeout},
		restURL: restScheme + "://" + configuration.Host,

		available: atomic.NewBool(false),
	}

	header := http.Header{}
	header.Set("Authorization", configuration.Authorization)
	header.Set("Num-Shards", fmt.Sprintf("%d", client.ShardCount))
	header.Set("User-Id", client.UserID)

	node.transport = NewTransport(scheme+"://"+configuration.Host, header, node.Logger)
	node.registerTransportHandlers()

	return node
}

func (n *Node) registerTransportHandlers() {
	n.transport.OnOpen(n.handleOpen)
	n.transport.OnMessage(n.handleMessage)
	n.transport.OnClose(n.handleClose)
}

// Name returns the configured node name.
func (n *Node) Name() string {
	return n.configuration.Name
}

// Available reports whether the node's transport is currently open.
func (n *Node) Available() bool {
	return n.available.Load()
}

// Stats returns the last pushed statistics snapshot, nil before the first
// push.
func (n *Node) Stats() *Stats {
	n.statsMu.RLock()
	defer n.statsMu.RUnlock()

	return n.stats
}

// Open connects the node's transport and starts its read loop.
func (n *Node) Open(ctx context.Context) error {
	n.Logger.Info().Str("url", n.transport.URL()).Msg("Connecting to node")

	return n.transport.Open(ctx)
}

// Close disconnects the node's transport.
func (n *Node) Close() {
	n.Logger.Info().Str("url", n.transport.URL()).Msg("Disconnecting from node")

	_ = n.transport.Close(websocket.StatusNormalClosure, "")
}

// OnStats registers a handler for statistics pushes.
func (n *Node) OnStats(fn func(event *StatsEvent)) {
	n.statsHandlers.add(fn)
}

// Send sends one op discriminated frame to the node.
func (n *Node) Send(ctx context.Context, op Op, payload interface{}) error {
	if err := n.transport.SendJSON(ctx, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", op, err)
	}

	recordCommand(n.configuration.Name, op)

	return nil
}

// CreatePlayer sends the guild's aggregated voice session to the node and
// registers a player for it. The voiceUpdate frame is sent before the player
// becomes reachable, so no player command can overtake the session
// credentials on the wire.
func (n *Node) CreatePlayer(ctx context.Context, guildID, sessionID string, event *VoiceServerUpdate) (*Player, error) {
	n.Logger.Info().Str("guild_id", guildID).Msg("Creating player")

	err := n.Send(ctx, OpVoiceUpdate, voiceUpdatePayload{
		Op:        OpVoiceUpdate,
		GuildID:   guildID,
		SessionID: sessionID,
		Event:     event,
	})
	if err != nil {
		return nil, err
	}

	player := newPlayer(guildID, n, n.client)
	n.client.players.Store(guildID, player)

	return player, nil
}

// LoadTracks resolves an identifier into playable tracks via the node's
// REST endpoint. The identifier may be a source url or a search prefixed
// query.
func (n *Node) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	endpoint := n.restURL + "/loadtracks?identifier=" + url.QueryEscape(identifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", n.configuration.Authorization)

	resp, err := n.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request loadtracks: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, RequestError{Status: resp.Status, StatusCode: resp.StatusCode}
	}

	var result LoadResult

	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode loadtracks response: %w", err)
	}

	return &result, nil
}

// YouTubeSearch resolves a YouTube search query.
func (n *Node) YouTubeSearch(ctx context.Context, query string) (*LoadResult, error) {
	return n.LoadTracks(ctx, searchPrefixYouTube+query)
}

// SoundCloudSearch resolves a SoundCloud search query.
func (n *Node) SoundCloudSearch(ctx context.Context, query string) (*LoadResult, error) {
	return n.LoadTracks(ctx, searchPrefixSoundCloud+query)
}

func (n *Node) handleOpen() {
	n.available.Store(true)
}

func (n *Node) handleClose(code int, reason string, byRemote bool) {
	n.available.Store(false)

	n.Logger.Warn().
		Int("code", code).
		Str("reason", reason).
		Bool("by_remote", byRemote).
		Msg("Node connection closed")
}

// handleMessage demultiplexes one inbound frame. It runs on the transport's
// read loop, so frames of one node are dispatched in order.
func (n *Node) handleMessage(payload ReceivedPayload) {
	switch payload.Op {
	case OpPlayerUpdate:
		n.handlePlayerUpdate(payload.Data)
	case OpStats:
		n.handleStats(payload.Data)
	case OpEvent:
		n.handleEvent(payload.Data)
	default:
		n.Logger.Warn().Str("op", string(payload.Op)).Msg("Node sent unknown op")
	}
}

func (n *Node) handlePlayerUpdate(data []byte) {
	var update playerUpdatePayload

	if err := json.Unmarshal(data, &update); err != nil {
		n.Logger.Error().Err(err).Msg("Failed to decode playerUpdate frame")

		return
	}

	player, ok := n.client.players.Load(update.GuildID)
	if !ok {
		n.Logger.Debug().Str("guild_id", update.GuildID).Msg("Received playerUpdate for unknown guild")

		return
	}

	player.handlePlayerUpdate(
		time.UnixMilli(update.State.Time),
		time.Duration(update.State.Position)*time.Millisecond,
	)
}

func (n *Node) handleStats(data []byte) {
	var stats Stats

	if err := json.Unmarshal(data, &stats); err != nil {
		n.Logger.Error().Err(err).Msg("Failed to decode stats frame")

		return
	}

	n.statsMu.Lock()
	n.stats = &stats
	n.statsMu.Unlock()

	updateNodeStats(n.configuration.Name, &stats)

	n.statsHandlers.emit(&StatsEvent{Node: n, Stats: stats})
}

// handleEvent demultiplexes op "event" frames by their embedded type tag,
// resolves the target player and forwards the decoded payload.
func (n *Node) handleEvent(data []byte) {
	var envelope eventEnvelope

	if err := json.Unmarshal(data, &envelope); err != nil {
		n.Logger.Error().Err(err).Msg("Failed to decode event frame")

		return
	}

	name := NormalizeEventType(envelope.Type)

	recordEvent(n.configuration.Name, name)

	player, ok := n.client.players.Load(envelope.GuildID)
	if !ok {
		n.Logger.Debug().
			Str("guild_id", envelope.GuildID).
			Str("event", name).
			Msg("Received event for unknown guild")

		return
	}

	switch name {
	case EventWebSocketClosed:
		var closed websocketClosedPayload

		if err := json.Unmarshal(data, &closed); err != nil {
			n.Logger.Error().Err(err).Msg("Failed to decode WebSocketClosedEvent")

			return
		}

		player.handleWebSocketClosed(closed.Code, closed.Reason, closed.ByRemote)
	case EventTrackStart, EventTrackEnd, EventTrackException, EventTrackStuck:
		var track trackEventPayload

		if err := json.Unmarshal(data, &track); err != nil {
			n.Logger.Error().Err(err).Str("event", name).Msg("Failed to decode track event")

			return
		}

		switch name {
		case EventTrackStart:
			player.handleTrackStart(track.Track)
		case EventTrackEnd:
			player.handleTrackEnd(track.Track, TrackEndReason(track.Reason))
		case EventTrackException:
			player.handleTrackException(track.Track, track.Error)
		case EventTrackStuck:
			player.handleTrackStuck(track.Track, time.Duration(track.ThresholdMS)*time.Millisecond)
		}
	default:
		n.Logger.Warn().Str("type", envelope.Type).Msg("Node sent unknown event type")
	}
}
