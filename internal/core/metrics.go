package core

import "github.com/prometheus/client_golang/prometheus"

var (
	// ConnectedSessions tracks the number of live sessions per server.
	ConnectedSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshchat_connected_sessions",
		Help: "Number of currently connected sessions per server",
	}, []string{"server"})

	// FramesTotal counts the inbound frames handled, labeled by server and verb.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshchat_frames_total",
		Help: "Total inbound frames processed per server and verb",
	}, []string{"server", "verb"})

	// DroppedFramesTotal counts outbound frames dropped due to a full session buffer.
	DroppedFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshchat_dropped_frames_total",
		Help: "Outbound frames dropped because a session's write buffer was full",
	}, []string{"server"})

	// RelayForwardsTotal counts broadcasts forwarded to mesh siblings.
	RelayForwardsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshchat_relay_forwards_total",
		Help: "Broadcasts forwarded to mesh siblings, by result",
	}, []string{"server", "result"})
)

func init() {
	prometheus.MustRegister(ConnectedSessions)
	prometheus.MustRegister(FramesTotal)
	prometheus.MustRegister(DroppedFramesTotal)
	prometheus.MustRegister(RelayForwardsTotal)
}
