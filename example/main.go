package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	caldera "github.com/calderateam/caldera"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Minimal integration example: connect a node, search for a track and dump
// node statistics. A real host wires Connect to its gateway voice join and
// feeds voice state/server updates back into the client.
func main() {
	_ = godotenv.Load()

	writer := io.MultiWriter(
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Stamp},
		&lumberjack.Logger{
			Filename:   "logs/caldera.log",
			MaxSize:    25,
			MaxBackups: 5,
		},
	)

	logger := zerolog.New(writer).With().Timestamp().Logger()

	client := caldera.NewClient(writer, caldera.ClientOptions{
		UserID:     os.Getenv("USER_ID"),
		ShardCount: 1,
		Connect: func(guildID, channelID string) {
			logger.Info().
				Str("guild_id", guildID).
				Str("channel_id", channelID).
				Msg("Host gateway should join this voice channel")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node, err := client.AddNode(ctx, caldera.NodeConfiguration{
		Name:          "local",
		Host:          os.Getenv("NODE_HOST"),
		Authorization: os.Getenv("NODE_AUTHORIZATION"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to node")
	}

	node.OnStats(func(event *caldera.StatsEvent) {
		logger.Info().
			Int("playing_players", event.Stats.PlayingPlayers).
			Float64("system_load", event.Stats.CPU.SystemLoad).
			Msg("Node stats")
	})

	go func() {
		http.Handle("/metrics", promhttp.Handler())

		if err := http.ListenAndServe("127.0.0.1:9091", nil); err != nil {
			logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	result, err := node.YouTubeSearch(ctx, "melodic techno mix")
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to search")
	}

	logger.Info().Str("load_type", string(result.LoadType)).Msg("Search finished")

	for _, track := range result.Tracks {
		logger.Info().
			Str("title", track.Info.Title).
			Str("author", track.Info.Author).
			Dur("length", track.Info.Duration()).
			Msg("Track")
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	client.Close()
}
