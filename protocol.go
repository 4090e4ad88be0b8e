package caldera

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Op is the discriminator carried by every frame exchanged with a node.
type Op string

const (
	// Outbound ops.
	OpVoiceUpdate Op = "voiceUpdate"
	OpPlay        Op = "play"
	OpPause       Op = "pause"
	OpSeek        Op = "seek"
	OpVolume      Op = "volume"
	OpEqualizer   Op = "equalizer"
	OpDestroy     Op = "destroy"

	// Inbound ops.
	OpPlayerUpdate Op = "playerUpdate"
	OpStats        Op = "stats"
	OpEvent        Op = "event"
)

// ReceivedPayload is a single inbound frame with its op discriminator
// resolved. Data holds the entire frame for op specific decoding.
type ReceivedPayload struct {
	Op   Op
	Data []byte
}

// VoiceServerUpdate is the voice server payload received from the host
// gateway. It is forwarded to the node verbatim inside a voiceUpdate frame.
type VoiceServerUpdate struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

type voiceUpdatePayload struct {
	Op        Op                 `json:"op"`
	GuildID   string             `json:"guildId"`
	SessionID string             `json:"sessionId"`
	Event     *VoiceServerUpdate `json:"event"`
}

type playPayload struct {
	Op        Op     `json:"op"`
	GuildID   string `json:"guildId"`
	Track     string `json:"track"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	NoReplace bool   `json:"noReplace"`
}

type pausePayload struct {
	Op      Op     `json:"op"`
	GuildID string `json:"guildId"`
	Pause   bool   `json:"pause"`
}

type seekPayload struct {
	Op       Op     `json:"op"`
	GuildID  string `json:"guildId"`
	Position int64  `json:"position"`
}

type volumePayload struct {
	Op      Op     `json:"op"`
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

// EqualizerBand adjusts the gain of a single band. Band is an index in
// [0, 14], Gain is in [-0.25, 1.0].
type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

type equalizerPayload struct {
	Op      Op              `json:"op"`
	GuildID string          `json:"guildId"`
	Bands   []EqualizerBand `json:"bands"`
}

type destroyPayload struct {
	Op      Op     `json:"op"`
	GuildID string `json:"guildId"`
}

type playerUpdatePayload struct {
	Op      Op     `json:"op"`
	GuildID string `json:"guildId"`
	State   struct {
		Time     int64 `json:"time"`
		Position int64 `json:"position"`
	} `json:"state"`
}

// eventEnvelope is the common shape of op "event" frames. The remaining
// fields are event type specific and decoded per type.
type eventEnvelope struct {
	Op      Op     `json:"op"`
	Type    string `json:"type"`
	GuildID string `json:"guildId"`
}

type trackEventPayload struct {
	Track       string `json:"track"`
	Reason      string `json:"reason"`
	Error       string `json:"error"`
	ThresholdMS int64  `json:"thresholdMs"`
}

type websocketClosedPayload struct {
	GuildID  string `json:"guildId"`
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

// Stats is the periodic statistics snapshot a node pushes about itself.
type Stats struct {
	Players        int          `json:"players"`
	PlayingPlayers int          `json:"playingPlayers"`
	Uptime         int64        `json:"uptime"`
	Memory         StatsMemory  `json:"memory"`
	CPU            StatsCPU     `json:"cpu"`
	FrameStats     *StatsFrames `json:"frameStats,omitempty"`
}

type StatsMemory struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type StatsCPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// StatsFrames is only present once the node has been sending audio for a
// minute.
type StatsFrames struct {
	Sent    int64 `json:"sent"`
	Nulled  int64 `json:"nulled"`
	Deficit int64 `json:"deficit"`
}

// LoadType describes the outcome of a load tracks request.
type LoadType string

const (
	LoadTypeTrackLoaded    LoadType = "TRACK_LOADED"
	LoadTypePlaylistLoaded LoadType = "PLAYLIST_LOADED"
	LoadTypeSearchResult   LoadType = "SEARCH_RESULT"
	LoadTypeNoMatches      LoadType = "NO_MATCHES"
	LoadTypeLoadFailed     LoadType = "LOAD_FAILED"
)

// PlaylistInfo describes the playlist a load tracks response belongs to.
type PlaylistInfo struct {
	Name string `json:"name"`
	// SelectedTrack is the index into Tracks, or -1 when nothing is selected.
	SelectedTrack int `json:"selectedTrack"`
}

// LoadResult is the response of the loadtracks REST endpoint. Track order is
// significant, playback and selection depend on it.
type LoadResult struct {
	LoadType     LoadType      `json:"loadType"`
	PlaylistInfo *PlaylistInfo `json:"playlistInfo,omitempty"`
	Tracks       []*Track      `json:"tracks"`
}

// TrackEndReason explains why a track stopped playing.
type TrackEndReason string

const (
	TrackEndFinished   TrackEndReason = "FINISHED"
	TrackEndLoadFailed TrackEndReason = "LOAD_FAILED"
	TrackEndStopped    TrackEndReason = "STOPPED"
	TrackEndReplaced   TrackEndReason = "REPLACED"
	TrackEndCleanup    TrackEndReason = "CLEANUP"
)

// MayStartNext reports whether the next queued track should be started
// after this end reason.
func (r TrackEndReason) MayStartNext() bool {
	return r == TrackEndFinished || r == TrackEndLoadFailed
}
