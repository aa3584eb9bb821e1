package data

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/portablefn/fnharness/internal/build"
)

const (
	kindData   = "data"
	kindTimers = "timers"

	outcomeComplete  = "complete"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

var (
	inboundBatchesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "inbound_batches_total",
		Help:      "The total number of element batches accepted by inbound observers.",
	})

	inboundDecodedElementsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "inbound_decoded_elements_total",
		Help:      "The total number of values decoded and delivered to inbound endpoints.",
	}, []string{"kind"})

	inboundBundlesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "inbound_bundles_total",
		Help:      "The total number of bundles consumed by inbound observers, by outcome.",
	}, []string{"outcome"})

	inboundAcceptWaitHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "inbound_accept_wait_ms",
		Help:                            "Time a producer spent blocked handing a batch to an inbound observer.",
		Buckets:                         []float64{1, 5, 10, 25, 50, 100, 500, 1000, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	})
)
