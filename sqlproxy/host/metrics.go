package host

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlbridge_operations_total",
		Help: "Host operations by command and outcome.",
	}, []string{"op", "outcome"})
	operationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sqlbridge_operation_seconds",
		Help:    "Time spent serving host operations.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"op"})
	liveHandles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sqlbridge_live_handles",
		Help: "Registered handles by resource kind.",
	}, []string{"kind"})
	syncTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlbridge_sync_timeouts_total",
		Help: "Replica syncs that outlived their timeout.",
	})
)

// instrument records one operation. It is deferred with a pointer to the
// operation's named error result.
func instrument(op string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = string(types.KindOf(*err))
	}
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
