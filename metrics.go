package geosync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dropReasonUnresolved = "unresolved"
	dropReasonViewport   = "viewport"
)

const (
	writeResultOk    = "ok"
	writeResultError = "error"
)

var (
	metricFeedDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosync_feed_deltas_total",
		Help: "Change-feed deltas received, by collection.",
	}, []string{"collection"})

	metricFeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosync_feed_errors_total",
		Help: "Change-feed subscribe and listen failures, by collection.",
	}, []string{"collection"})

	metricRecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosync_records_dropped_total",
		Help: "Records dropped during filtering, by collection and reason.",
	}, []string{"collection", "reason"})

	metricPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geosync_publishes_total",
		Help: "Coalesced snapshot publications.",
	})

	metricPositionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosync_position_writes_total",
		Help: "Upstream position write attempts, by result.",
	}, []string{"result"})

	metricPositionWriteDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geosync_position_write_drops_total",
		Help: "Position samples dropped for upstream purposes (throttled or write in flight).",
	})
)
