package caldera

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventMetrics tracks frames pushed by nodes.
var EventMetrics = struct {
	EventsTotal   *prometheus.CounterVec
	CommandsTotal *prometheus.CounterVec
}{
	EventsTotal: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caldera_events_total",
			Help: "Total number of node pushed events, split by node and event type",
		},
		[]string{"node", "event_type"},
	),
	CommandsTotal: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caldera_commands_total",
			Help: "Total number of command frames sent, split by node and op",
		},
		[]string{"node", "op"},
	),
}

// NodeMetrics tracks the statistics nodes push about themselves.
var NodeMetrics = struct {
	PlayingPlayers *prometheus.GaugeVec
	SystemLoad     *prometheus.GaugeVec
	MemoryUsed     *prometheus.GaugeVec
	Uptime         *prometheus.GaugeVec
}{
	PlayingPlayers: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "caldera_node_playing_players",
			Help: "Number of players currently playing on the node",
		},
		[]string{"node"},
	),
	SystemLoad: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "caldera_node_system_load",
			Help: "System cpu load reported by the node",
		},
		[]string{"node"},
	),
	MemoryUsed: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "caldera_node_memory_used_bytes",
			Help: "Memory used by the node in bytes",
		},
		[]string{"node"},
	),
	Uptime: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "caldera_node_uptime_seconds",
			Help: "Uptime reported by the node in seconds",
		},
		[]string{"node"},
	),
}

func recordEvent(node, eventType string) {
	EventMetrics.EventsTotal.WithLabelValues(node, eventType).Inc()
}

func recordCommand(node string, op Op) {
	EventMetrics.CommandsTotal.WithLabelValues(node, string(op)).Inc()
}

func updateNodeStats(node string, stats *Stats) {
	NodeMetrics.PlayingPlayers.WithLabelValues(node).Set(float64(stats.PlayingPlayers))
	NodeMetrics.SystemLoad.WithLabelValues(node).Set(stats.CPU.SystemLoad)
	NodeMetrics.MemoryUsed.WithLabelValues(node).Set(float64(stats.Memory.Used))
	NodeMetrics.Uptime.WithLabelValues(node).Set(float64(stats.Uptime) / 1000)
}
