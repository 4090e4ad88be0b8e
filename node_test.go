package caldera

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestPlayer(t *testing.T, client *Client, node *Node, guildID string) *Player {
	t.Helper()

	player, err := node.CreatePlayer(context.Background(), guildID, "session-abc", testVoiceServerUpdate(guildID))
	require.NoError(t, err)

	return player
}

func TestCreatePlayerSendsVoiceUpdateFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")

	player := createTestPlayer(t, client, node, "81384788765712384")

	track, err := EncodeTrack(TrackInfo{
		Identifier: "dQw4w9WgXcQ",
		Title:      "Never Gonna Give You Up",
		Author:     "Rick Astley",
		Length:     212000,
		SourceName: "youtube",
		URI:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	require.NoError(t, err)

	require.NoError(t, player.PlayEncoded(ctx, track))

	// The session credentials must hit the wire before any playback command.
	assert.Equal(t, []Op{OpVoiceUpdate, OpPlay}, transport.sentOps())
}

func TestCreatePlayerSendFailureDoesNotRegister(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")

	transport.sendErr = fmt.Errorf("connection reset")

	_, err := node.CreatePlayer(context.Background(), "81384788765712384", "session-abc", testVoiceServerUpdate("81384788765712384"))
	require.Error(t, err)

	_, ok := client.GetPlayer("81384788765712384")
	assert.False(t, ok)
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")

	var received *StatsEvent

	node.OnStats(func(event *StatsEvent) {
		received = event
	})

	transport.onMessage(ReceivedPayload{
		Op: OpStats,
		Data: []byte(`{
			"op": "stats",
			"players": 3,
			"playingPlayers": 2,
			"uptime": 543210,
			"memory": {"free": 1024, "used": 2048, "allocated": 4096, "reservable": 8192},
			"cpu": {"cores": 4, "systemLoad": 0.25, "lavalinkLoad": 0.05}
		}`),
	})

	stats := node.Stats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.PlayingPlayers)
	assert.Equal(t, 0.25, stats.CPU.SystemLoad)
	assert.Equal(t, int64(2048), stats.Memory.Used)
	assert.Nil(t, stats.FrameStats)

	require.NotNil(t, received)
	assert.Same(t, node, received.Node)
	assert.Equal(t, int64(543210), received.Stats.Uptime)
}

func TestHandlePlayerUpdate(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")

	player := createTestPlayer(t, client, node, "81384788765712384")

	var received *PlayerUpdateEvent

	player.OnPlayerUpdate(func(event *PlayerUpdateEvent) {
		received = event
	})

	transport.onMessage(ReceivedPayload{
		Op:   OpPlayerUpdate,
		Data: []byte(`{"op":"playerUpdate","guildId":"81384788765712384","state":{"time":1500000000000,"position":60000}}`),
	})

	position, at := player.Position()
	assert.Equal(t, time.Minute, position)
	assert.Equal(t, time.UnixMilli(1500000000000), at)

	require.NotNil(t, received)
	assert.Same(t, player, received.Player)
	assert.Equal(t, time.Minute, received.Position)
}

func TestHandleEventDispatchesToPlayer(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")

	player := createTestPlayer(t, client, node, "81384788765712384")

	encoded, err := EncodeTrack(TrackInfo{
		Identifier: "dQw4w9WgXcQ",
		Title:      "Never Gonna Give You Up",
		Author:     "Rick Astley",
		Length:     212000,
		SourceName: "youtube",
		URI:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	require.NoError(t, err)

	var started *TrackStartEvent

	player.OnTrackStart(func(event *TrackStartEvent) {
		started = event
	})

	frame, err := json.Marshal(map[string]interface{}{
		"op":      "event",
		"type":    "TrackStartEvent",
		"guildId": "81384788765712384",
		"track":   encoded,
	})
	require.NoError(t, err)

	transport.onMessage(ReceivedPayload{Op: OpEvent, Data: frame})

	require.NotNil(t, started)
	assert.Same(t, player, started.Player)
	assert.Equal(t, encoded, started.EncodedTrack)
	require.NotNil(t, started.Track)
	assert.Equal(t, "Never Gonna Give You Up", started.Track.Info.Title)
}

func TestHandleEventForUnknownGuild(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	_, transport := newTestNode(t, client, "node-a")

	// Must not panic, the guild has no player.
	transport.onMessage(ReceivedPayload{
		Op:   OpEvent,
		Data: []byte(`{"op":"event","type":"TrackEndEvent","guildId":"999","track":"","reason":"FINISHED"}`),
	})
}

func TestHandleUnknownOpIsIgnored(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	_, transport := newTestNode(t, client, "node-a")

	transport.onMessage(ReceivedPayload{Op: "ready", Data: []byte(`{"op":"ready"}`)})
	transport.onMessage(ReceivedPayload{Op: OpStats, Data: []byte(`{"op":"stats",`)})
}

func TestAvailabilityFollowsTransport(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")

	assert.True(t, node.Available())

	transport.onClose(4000, "going away", true)

	assert.False(t, node.Available())
}

func TestNodeHeaders(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)

	node := newNode(client, NodeConfiguration{
		Name:          "node-a",
		Host:          "localhost:2333",
		Authorization: "youshallnotpass",
	})

	transport, ok := node.transport.(*Transport)
	require.True(t, ok)

	assert.Equal(t, "ws://localhost:2333", transport.URL())
	assert.Equal(t, "youshallnotpass", transport.header.Get("Authorization"))
	assert.Equal(t, "1", transport.header.Get("Num-Shards"))
	assert.Equal(t, "700811170902179862", transport.header.Get("User-Id"))
}

func TestNodeSecureScheme(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)

	node := newNode(client, NodeConfiguration{
		Name:          "node-a",
		Host:          "lavalink.example.com:443",
		Authorization: "youshallnotpass",
		Secure:        true,
	})

	assert.Equal(t, "wss://lavalink.example.com:443", node.transport.URL())
	assert.Equal(t, "https://lavalink.example.com:443", node.restURL)
}
