package caldera

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultVolume is the volume a player starts at.
	DefaultVolume = 100

	// MaxVolume is the highest volume a node accepts.
	MaxVolume = 1000
)

// Player is one guild's playback session on a node. It is created once the
// guild's voice session has been aggregated and removed from the client
// registry when destroyed.
//
// Node and Client are lookup references, the client registry owns the
// player's lifetime.
type Player struct {
	Logger zerolog.Logger

	guildID string
	node    *Node
	client  *Client

	mu           sync.RWMutex
	volume       int
	paused       bool
	track        *Track
	position     time.Duration
	positionTime time.Time
	destroyed    bool

	trackStartHandlers      handlerList[*TrackStartEvent]
	trackEndHandlers        handlerList[*TrackEndEvent]
	trackExceptionHandlers  handlerList[*TrackExceptionEvent]
	trackStuckHandlers      handlerList[*TrackStuckEvent]
	websocketClosedHandlers handlerList[*WebSocketClosedEvent]
	playerUpdateHandlers    handlerList[*PlayerUpdateEvent]
}

func newPlayer(guildID string, node *Node, client *Client) *Player {
	return &Player{
		Logger: node.Logger.With().Str("guild_id", guildID).Logger(),

		guildID: guildID,
		node:    node,
		client:  client,

		volume: DefaultVolume,
	}
}

// GuildID returns the guild this player plays for.
func (p *Player) GuildID() string {
	return p.guildID
}

// Node returns the node hosting this player.
func (p *Player) Node() *Node {
	return p.node
}

// Volume returns the volume set by the last SetVolume call.
func (p *Player) Volume() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.volume
}

// Paused reports whether the last issued command left the player paused.
func (p *Player) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.paused
}

// Track returns the currently playing track, nil when nothing plays.
func (p *Player) Track() *Track {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.track
}

// Position returns the last playback position reported by the node and the
// node's timestamp for it. The position is only advanced by player update
// pushes.
func (p *Player) Position() (time.Duration, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.position, p.positionTime
}

// OnTrackStart registers a handler for track start events.
func (p *Player) OnTrackStart(fn func(event *TrackStartEvent)) {
	p.trackStartHandlers.add(fn)
}

// OnTrackEnd registers a handler for track end events.
func (p *Player) OnTrackEnd(fn func(event *TrackEndEvent)) {
	p.trackEndHandlers.add(fn)
}

// OnTrackException registers a handler for track exception events.
func (p *Player) OnTrackException(fn func(event *TrackExceptionEvent)) {
	p.trackExceptionHandlers.add(fn)
}

// OnTrackStuck registers a handler for track stuck events.
func (p *Player) OnTrackStuck(fn func(event *TrackStuckEvent)) {
	p.trackStuckHandlers.add(fn)
}

// OnWebSocketClosed registers a handler for voice websocket closures.
func (p *Player) OnWebSocketClosed(fn func(event *WebSocketClosedEvent)) {
	p.websocketClosedHandlers.add(fn)
}

// OnPlayerUpdate registers a handler for playback progress updates.
func (p *Player) OnPlayerUpdate(fn func(event *PlayerUpdateEvent)) {
	p.playerUpdateHandlers.add(fn)
}

// Play starts playing a track from its beginning, replacing whatever is
// currently playing.
func (p *Player) Play(ctx context.Context, track *Track) error {
	return p.play(ctx, track.Encoded, track, 0, 0)
}

// PlayAt starts playing a track between the given positions. A zero endTime
// plays to the end.
func (p *Player) PlayAt(ctx context.Context, track *Track, startTime, endTime time.Duration) error {
	return p.play(ctx, track.Encoded, track, startTime, endTime)
}

// PlayEncoded starts playing a raw base64 track handle.
func (p *Player) PlayEncoded(ctx context.Context, encoded string) error {
	track, err := DecodeTrack(encoded)
	if err != nil {
		p.Logger.Warn().Err(err).Msg("Failed to decode track handle, playing it anyway")

		track = nil
	}

	return p.play(ctx, encoded, track, 0, 0)
}

func (p *Player) play(ctx context.Context, encoded string, track *Track, startTime, endTime time.Duration) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}

	err := p.node.Send(ctx, OpPlay, playPayload{
		Op:        OpPlay,
		GuildID:   p.guildID,
		Track:     encoded,
		StartTime: startTime.Milliseconds(),
		EndTime:   endTime.Milliseconds(),
		NoReplace: false,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.paused = false
	p.track = track
	p.mu.Unlock()

	return nil
}

// Pause pauses playback.
func (p *Player) Pause(ctx context.Context) error {
	return p.setPaused(ctx, true)
}

// Resume resumes playback.
func (p *Player) Resume(ctx context.Context) error {
	return p.setPaused(ctx, false)
}

func (p *Player) setPaused(ctx context.Context, paused bool) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}

	err := p.node.Send(ctx, OpPause, pausePayload{
		Op:      OpPause,
		GuildID: p.guildID,
		Pause:   paused,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()

	return nil
}

// Seek seeks to a position in the current track. The local position is only
// updated once the node reports it back.
func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}

	return p.node.Send(ctx, OpSeek, seekPayload{
		Op:       OpSeek,
		GuildID:  p.guildID,
		Position: position.Milliseconds(),
	})
}

// SetVolume sets the player volume, clamped to [0, MaxVolume].
func (p *Player) SetVolume(ctx context.Context, level int) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}

	if level < 0 {
		level = 0
	} else if level > MaxVolume {
		level = MaxVolume
	}

	err := p.node.Send(ctx, OpVolume, volumePayload{
		Op:      OpVolume,
		GuildID: p.guildID,
		Volume:  level,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.volume = level
	p.mu.Unlock()

	return nil
}

// Equalizer adjusts the gain of the given bands, keyed by band index.
func (p *Player) Equalizer(ctx context.Context, bands map[int]float64) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}

	payload := equalizerPayload{
		Op:      OpEqualizer,
		GuildID: p.guildID,
		Bands:   make([]EqualizerBand, 0, len(bands)),
	}

	for band, gain := range bands {
		payload.Bands = append(payload.Bands, EqualizerBand{Band: band, Gain: gain})
	}

	sort.Slice(payload.Bands, func(i, j int) bool {
		return payload.Bands[i].Band < payload.Bands[j].Band
	})

	return p.node.Send(ctx, OpEqualizer, payload)
}

// Destroy tears the player down on the node and removes it from the client
// registry. The player accepts no further commands.
func (p *Player) Destroy(ctx context.Context) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}

	err := p.node.Send(ctx, OpDestroy, destroyPayload{
		Op:      OpDestroy,
		GuildID: p.guildID,
	})

	p.mu.Lock()
	p.destroyed = true
	p.track = nil
	p.mu.Unlock()

	p.client.players.Delete(p.guildID)

	return err
}

func (p *Player) checkDestroyed() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.destroyed {
		return ErrPlayerDestroyed
	}

	return nil
}

// decodeEventTrack decodes a track handle carried by an event, nil when the
// handle is absent or malformed. A bad handle only fails the decode, never
// the read loop.
func (p *Player) decodeEventTrack(encoded string) *Track {
	if encoded == "" {
		return nil
	}

	track, err := DecodeTrack(encoded)
	if err != nil {
		p.Logger.Warn().Err(err).Msg("Failed to decode event track handle")

		return nil
	}

	return track
}

func (p *Player) handleTrackStart(encoded string) {
	p.Logger.Debug().Msg("Track started")

	p.trackStartHandlers.emit(&TrackStartEvent{
		Player:       p,
		EncodedTrack: encoded,
		Track:        p.decodeEventTrack(encoded),
	})
}

func (p *Player) handleTrackEnd(encoded string, reason TrackEndReason) {
	p.Logger.Debug().Str("reason", string(reason)).Msg("Track ended")

	p.clearTrack()

	p.trackEndHandlers.emit(&TrackEndEvent{
		Player:       p,
		EncodedTrack: encoded,
		Track:        p.decodeEventTrack(encoded),
		Reason:       reason,
	})
}

func (p *Player) handleTrackException(encoded, errMessage string) {
	p.Logger.Debug().Str("error", errMessage).Msg("Track exception")

	p.clearTrack()

	p.trackExceptionHandlers.emit(&TrackExceptionEvent{
		Player:       p,
		EncodedTrack: encoded,
		Track:        p.decodeEventTrack(encoded),
		Error:        errMessage,
	})
}

func (p *Player) handleTrackStuck(encoded string, threshold time.Duration) {
	p.Logger.Debug().Dur("threshold", threshold).Msg("Track stuck")

	p.clearTrack()

	p.trackStuckHandlers.emit(&TrackStuckEvent{
		Player:       p,
		EncodedTrack: encoded,
		Track:        p.decodeEventTrack(encoded),
		Threshold:    threshold,
	})
}

func (p *Player) handleWebSocketClosed(code int, reason string, byRemote bool) {
	p.Logger.Warn().
		Int("code", code).
		Str("reason", reason).
		Bool("by_remote", byRemote).
		Msg("Voice websocket closed")

	p.clearTrack()

	p.websocketClosedHandlers.emit(&WebSocketClosedEvent{
		Player:   p,
		GuildID:  p.guildID,
		Code:     code,
		Reason:   reason,
		ByRemote: byRemote,
	})
}

func (p *Player) handlePlayerUpdate(at time.Time, position time.Duration) {
	p.mu.Lock()
	p.position = position
	p.positionTime = at
	p.mu.Unlock()

	p.playerUpdateHandlers.emit(&PlayerUpdateEvent{
		Player:   p,
		Time:     at,
		Position: position,
	})
}

func (p *Player) clearTrack() {
	p.mu.Lock()
	p.track = nil
	p.mu.Unlock()
}
