package dataplane

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/portablefn/fnharness/internal/build"
)

const (
	reasonPoisoned = "poisoned"
	reasonClosed   = "closed"
	reasonOverflow = "pending_overflow"
)

var (
	dataStreamsActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: build.ProjectName,
		Name:      "data_streams_active",
		Help:      "The number of data streams currently open.",
	})

	bundlesInFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: build.ProjectName,
		Name:      "data_bundles_in_flight",
		Help:      "The number of bundles currently being consumed.",
	})

	pendingBatchesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: build.ProjectName,
		Name:      "data_pending_batches",
		Help:      "The number of batches buffered for instructions that are not registered yet.",
	})

	droppedBatchesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "data_dropped_batches_total",
		Help:      "The total number of batches dropped by the data service, by reason.",
	}, []string{"reason"})

	bundleDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "data_bundle_duration_ms",
		Help:                            "Time from the registration of an instruction to the completion of its bundle.",
		Buckets:                         []float64{1, 10, 50, 100, 500, 1000, 5000, 30000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	})
)
