package caldera

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"

	csmap "github.com/mhmtszr/concurrent-swiss-map"
	"github.com/rs/zerolog"
)

// VERSION follows semantic versioning.
const VERSION = "0.3.0"

// ConnectHandler asks the host gateway to join a voice channel. The host's
// own voice state and voice server events must then be fed back through
// UpdateVoiceState.
type ConnectHandler func(guildID, channelID string)

// ClientOptions configures a Client.
type ClientOptions struct {
	// UserID is the application user the voice sessions belong to.
	UserID string

	// ShardCount is the total number of shards the host gateway runs.
	ShardCount int32

	// Connect is invoked by Client.Connect to request a voice channel join.
	Connect ConnectHandler
}

// Client coordinates the node pool, the guild player registry and the
// aggregation of voice session halves into playback sessions. One Client is
// constructed per process and lives for its lifetime.
type Client struct {
	Logger zerolog.Logger

	UserID     string
	ShardCount int32

	connect ConnectHandler

	players *csmap.CsMap[string, *Player]

	nodesMu sync.RWMutex
	nodes   []*Node

	// voiceStatesMu guards the whole merge-check-create-clear sequence of
	// UpdateVoiceState. The two session halves arrive from independent
	// gateway handlers and a lost update would silently prevent player
	// creation.
	voiceStatesMu sync.Mutex
	voiceStates   map[string]*voiceSession

	waitersMu     sync.Mutex
	playerWaiters map[string][]chan *Player
}

// voiceSession is the transient per guild aggregation state. Partial halves
// are retained across repeated updates until both are present.
type voiceSession struct {
	sessionID string
	event     *VoiceServerUpdate
}

// VoiceState carries whichever halves of a guild's voice session the host
// gateway has produced. Zero fields are ignored by UpdateVoiceState.
type VoiceState struct {
	SessionID string
	Event     *VoiceServerUpdate
}

// NewClient creates the client. Log output is written to logger.
func NewClient(logger io.Writer, options ClientOptions) *Client {
	return &Client{
		Logger: zerolog.New(logger).With().Timestamp().Logger(),

		UserID:     options.UserID,
		ShardCount: options.ShardCount,

		connect: options.Connect,

		players: csmap.Create(
			csmap.WithSize[string, *Player](64),
		),

		voiceStates:   make(map[string]*voiceSession),
		playerWaiters: make(map[string][]chan *Player),
	}
}

// AddNode connects a new node and adds it to the pool. Duplicate hosts are
// permitted and independent.
func (c *Client) AddNode(ctx context.Context, configuration NodeConfiguration) (*Node, error) {
	node := newNode(c, configuration)

	if err := node.Open(ctx); err != nil {
		return nil, err
	}

	c.nodesMu.Lock()
	c.nodes = append(c.nodes, node)
	c.nodesMu.Unlock()

	return node, nil
}

// RemoveNode disconnects a node and removes it from the pool. Players on
// that node are not migrated.
func (c *Client) RemoveNode(node *Node) {
	c.nodesMu.Lock()

	for i, n := range c.nodes {
		if n == node {
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)

			break
		}
	}

	c.nodesMu.Unlock()

	node.Close()
}

// Nodes returns a snapshot of the node pool.
func (c *Client) Nodes() []*Node {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()

	nodes := make([]*Node, len(c.nodes))
	copy(nodes, c.nodes)

	return nodes
}

// BestNode returns the available node with the lowest reported system cpu
// load. A node that has not pushed stats yet counts as maximally loaded.
// Ties keep pool order.
func (c *Client) BestNode() (*Node, error) {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()

	var best *Node

	bestLoad := 0.0

	for _, node := range c.nodes {
		if !node.Available() {
			continue
		}

		load := nodeSystemLoad(node)

		if best == nil || load < bestLoad {
			best = node
			bestLoad = load
		}
	}

	if best == nil {
		return nil, ErrNoNodesAvailable
	}

	return best, nil
}

// nodeSystemLoad orders nodes without stats behind every node with stats.
func nodeSystemLoad(node *Node) float64 {
	stats := node.Stats()
	if stats == nil {
		return math.MaxFloat64
	}

	return stats.CPU.SystemLoad
}

// GetPlayer returns the guild's player, if one exists.
func (c *Client) GetPlayer(guildID string) (*Player, bool) {
	return c.players.Load(guildID)
}

// UpdateVoiceState merges the given voice session halves into the guild's
// transient state. Once both the session id and the voice server event are
// present a player is created on the best node and the transient state is
// cleared. The halves commute, only their presence matters.
func (c *Client) UpdateVoiceState(ctx context.Context, guildID string, state VoiceState) error {
	c.voiceStatesMu.Lock()
	defer c.voiceStatesMu.Unlock()

	session, ok := c.voiceStates[guildID]
	if !ok {
		session = &voiceSession{}
		c.voiceStates[guildID] = session
	}

	if state.SessionID != "" {
		session.sessionID = state.SessionID
	}

	if state.Event != nil {
		session.event = state.Event
	}

	if session.sessionID == "" || session.event == nil {
		c.Logger.Debug().
			Str("guild_id", guildID).
			Bool("has_session_id", session.sessionID != "").
			Bool("has_event", session.event != nil).
			Msg("Received partial voice session")

		return nil
	}

	node, err := c.BestNode()
	if err != nil {
		return err
	}

	player, err := node.CreatePlayer(ctx, guildID, session.sessionID, session.event)
	if err != nil {
		return err
	}

	delete(c.voiceStates, guildID)

	c.signalPlayerWaiters(guildID, player)

	return nil
}

// OnVoiceStateUpdate feeds the session id half of a guild's voice session,
// from the host gateway's voice state update for the application user.
func (c *Client) OnVoiceStateUpdate(ctx context.Context, guildID, sessionID string) error {
	return c.UpdateVoiceState(ctx, guildID, VoiceState{SessionID: sessionID})
}

// OnVoiceServerUpdate feeds the voice server half of a guild's voice
// session, from the host gateway's voice server update.
func (c *Client) OnVoiceServerUpdate(ctx context.Context, event VoiceServerUpdate) error {
	return c.UpdateVoiceState(ctx, event.GuildID, VoiceState{Event: &event})
}

// Connect requests a voice channel join through the connect handler and
// waits until the gateway driven player creation completes. The deadline on
// ctx bounds the wait; ErrConnectTimeout is returned when it passes first.
//
// A creation already in flight when the deadline fires is not aborted, the
// player will still register afterwards.
func (c *Client) Connect(ctx context.Context, guildID, channelID string) (*Player, error) {
	if player, ok := c.players.Load(guildID); ok {
		return player, nil
	}

	if c.connect == nil {
		return nil, ErrNoConnectHandler
	}

	waiter := c.addPlayerWaiter(guildID)
	defer c.removePlayerWaiter(guildID, waiter)

	// The player may have registered between the lookup and the waiter
	// registration.
	if player, ok := c.players.Load(guildID); ok {
		return player, nil
	}

	c.connect(guildID, channelID)

	select {
	case player := <-waiter:
		return player, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrConnectTimeout
		}

		return nil, ctx.Err()
	}
}

// Close disconnects every node. Players are left registered; the process is
// expected to be shutting down.
func (c *Client) Close() {
	for _, node := range c.Nodes() {
		c.RemoveNode(node)
	}
}

func (c *Client) addPlayerWaiter(guildID string) chan *Player {
	waiter := make(chan *Player, 1)

	c.waitersMu.Lock()
	c.playerWaiters[guildID] = append(c.playerWaiters[guildID], waiter)
	c.waitersMu.Unlock()

	return waiter
}

func (c *Client) removePlayerWaiter(guildID string, waiter chan *Player) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()

	waiters := c.playerWaiters[guildID]

	for i, w := range waiters {
		if w == waiter {
			c.playerWaiters[guildID] = append(waiters[:i], waiters[i+1:]...)

			break
		}
	}

	if len(c.playerWaiters[guildID]) == 0 {
		delete(c.playerWaiters, guildID)
	}
}

func (c *Client) signalPlayerWaiters(guildID string, player *Player) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()

	for _, waiter := range c.playerWaiters[guildID] {
		select {
		case waiter <- player:
		default:
		}
	}

	delete(c.playerWaiters, guildID)
}
