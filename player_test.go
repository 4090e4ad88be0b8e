package caldera

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrack(t *testing.T) *Track {
	t.Helper()

	encoded, err := EncodeTrack(TrackInfo{
		Identifier: "dQw4w9WgXcQ",
		Title:      "Never Gonna Give You Up",
		Author:     "Rick Astley",
		Length:     212000,
		SourceName: "youtube",
		URI:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	require.NoError(t, err)

	track, err := DecodeTrack(encoded)
	require.NoError(t, err)

	return track
}

func TestPlayRecordsTrackAndUnpauses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	require.NoError(t, player.Pause(ctx))
	assert.True(t, player.Paused())

	track := testTrack(t)

	require.NoError(t, player.Play(ctx, track))

	assert.False(t, player.Paused())
	assert.Same(t, track, player.Track())

	var sent playPayload
	require.NoError(t, json.Unmarshal(transport.lastFrame(), &sent))
	assert.Equal(t, track.Encoded, sent.Track)
	assert.False(t, sent.NoReplace)
	assert.Zero(t, sent.StartTime)
	assert.Zero(t, sent.EndTime)
}

func TestPlayAtSendsWindow(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	require.NoError(t, player.PlayAt(context.Background(), testTrack(t), 30*time.Second, 90*time.Second))

	var sent playPayload
	require.NoError(t, json.Unmarshal(transport.lastFrame(), &sent))
	assert.Equal(t, int64(30000), sent.StartTime)
	assert.Equal(t, int64(90000), sent.EndTime)
}

func TestPauseResumeTrackLocalState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	require.NoError(t, player.Pause(ctx))
	assert.True(t, player.Paused())

	var sent pausePayload
	require.NoError(t, json.Unmarshal(transport.lastFrame(), &sent))
	assert.True(t, sent.Pause)

	require.NoError(t, player.Resume(ctx))
	assert.False(t, player.Paused())

	require.NoError(t, json.Unmarshal(transport.lastFrame(), &sent))
	assert.False(t, sent.Pause)
}

func TestPauseStateUnchangedOnSendFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	transport.sendErr = ErrTransportNotOpen

	require.Error(t, player.Pause(context.Background()))
	assert.False(t, player.Paused())
}

func TestSeekDoesNotMoveLocalPosition(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	require.NoError(t, player.Seek(context.Background(), 45*time.Second))

	var sent seekPayload
	require.NoError(t, json.Unmarshal(transport.lastFrame(), &sent))
	assert.Equal(t, int64(45000), sent.Position)

	position, _ := player.Position()
	assert.Zero(t, position, "position only moves on playerUpdate pushes")
}

func TestSetVolumeClamps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	assert.Equal(t, DefaultVolume, player.Volume())

	for _, tc := range []struct {
		name string
		in   int
		want int
	}{
		{name: "below range", in: -5, want: 0},
		{name: "in range", in: 150, want: 150},
		{name: "above range", in: 4000, want: MaxVolume},
	} {
		require.NoError(t, player.SetVolume(ctx, tc.in))

		var sent volumePayload
		require.NoError(t, json.Unmarshal(transport.lastFrame(), &sent), tc.name)
		assert.Equal(t, tc.want, sent.Volume, tc.name)
		assert.Equal(t, tc.want, player.Volume(), tc.name)
	}
}

func TestEqualizerSendsSortedBands(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	require.NoError(t, player.Equalizer(context.Background(), map[int]float64{
		10: 0.0,
		1:  0.25,
		5:  -0.25,
	}))

	var sent equalizerPayload
	require.NoError(t, json.Unmarshal(transport.lastFrame(), &sent))

	require.Len(t, sent.Bands, 3)
	assert.Equal(t, EqualizerBand{Band: 1, Gain: 0.25}, sent.Bands[0])
	assert.Equal(t, EqualizerBand{Band: 5, Gain: -0.25}, sent.Bands[1])
	assert.Equal(t, EqualizerBand{Band: 10, Gain: 0.0}, sent.Bands[2])
}

func TestDestroyDeregistersPlayer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	client := newTestClient(nil)
	node, transport := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	require.NoError(t, player.Destroy(ctx))

	_, ok := client.GetPlayer("81384788765712384")
	assert.False(t, ok, "destroy removes the registry entry")

	assert.Equal(t, []Op{OpVoiceUpdate, OpDestroy}, transport.sentOps())

	assert.ErrorIs(t, player.Play(ctx, testTrack(t)), ErrPlayerDestroyed)
	assert.ErrorIs(t, player.Pause(ctx), ErrPlayerDestroyed)
	assert.ErrorIs(t, player.Destroy(ctx), ErrPlayerDestroyed)
}

func TestTrackClearedOnTerminalEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for name, trigger := range map[string]func(p *Player){
		"track end":        func(p *Player) { p.handleTrackEnd("", TrackEndFinished) },
		"track exception":  func(p *Player) { p.handleTrackException("", "something broke") },
		"track stuck":      func(p *Player) { p.handleTrackStuck("", 10*time.Second) },
		"websocket closed": func(p *Player) { p.handleWebSocketClosed(4015, "voice server crashed", true) },
	} {
		trigger := trigger

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(nil)
			node, _ := newTestNode(t, client, "node-a")
			player := createTestPlayer(t, client, node, "81384788765712384")

			require.NoError(t, player.Play(ctx, testTrack(t)))
			require.NotNil(t, player.Track())

			trigger(player)

			assert.Nil(t, player.Track())
		})
	}
}

func TestTrackEndEventCarriesReason(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, _ := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	var received *TrackEndEvent

	player.OnTrackEnd(func(event *TrackEndEvent) {
		received = event
	})

	player.handleTrackEnd(testTrack(t).Encoded, TrackEndReplaced)

	require.NotNil(t, received)
	assert.Equal(t, TrackEndReplaced, received.Reason)
	assert.False(t, received.Reason.MayStartNext())
	require.NotNil(t, received.Track)
	assert.Equal(t, "Rick Astley", received.Track.Info.Author)
}

func TestEventWithMalformedTrackHandle(t *testing.T) {
	t.Parallel()

	client := newTestClient(nil)
	node, _ := newTestNode(t, client, "node-a")
	player := createTestPlayer(t, client, node, "81384788765712384")

	var received *TrackStartEvent

	player.OnTrackStart(func(event *TrackStartEvent) {
		received = event
	})

	player.handleTrackStart("not base64 at all!!!")

	require.NotNil(t, received, "a bad handle fails only the decode")
	assert.Equal(t, "not base64 at all!!!", received.EncodedTrack)
	assert.Nil(t, received.Track)
}
