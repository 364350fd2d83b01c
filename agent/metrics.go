package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/calehh/vp-proxy/types"
)

const (
	namespace = "vpp"
)

var (
	// DiscoveryCycles counts discovery cycles by result
	DiscoveryCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_cycles_total",
			Help:      "Total number of proposal discovery cycles",
		},
		[]string{"result"}, // ok/retry/abandoned
	)

	// ProposalsScheduled counts proposals put on the watchlist
	ProposalsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_scheduled_total",
			Help:      "Total number of proposals scheduled for voting",
		},
	)

	// VotesCast counts registered votes
	VotesCast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Total number of votes registered on behalf of the council",
		},
		[]string{"vote"},
	)

	// Participation counts terminal participation outcomes
	Participation = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participation_total",
			Help:      "Total number of finalized proposals by outcome",
		},
		[]string{"status"},
	)

	// RemoteFailures counts failed remote calls
	RemoteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_failures_total",
			Help:      "Total number of failed remote calls",
		},
		[]string{"op"},
	)

	// WatchlistSize tracks proposals currently scheduled
	WatchlistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchlist_size",
			Help:      "Number of proposals on the watchlist",
		},
	)

	// Watching is 1 while the watch lock is held
	Watching = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watching",
			Help:      "Whether the engine is watching proposals",
		},
	)
)

func recordParticipation(status types.ParticipationStatus) {
	Participation.WithLabelValues(status.String()).Inc()
}

func recordRemoteFailure(op string) {
	RemoteFailures.WithLabelValues(op).Inc()
}
