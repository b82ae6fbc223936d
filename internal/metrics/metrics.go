// Registers:
//
//	#mdfeed_batches_dispatched_total
//	#mdfeed_records_decoded_total
//	#mdfeed_decode_errors_total
//	#mdfeed_snapshot_commits_total
//	#mdfeed_snapshot_resyncs_total
//	#mdfeed_messages_dropped_total
//	#mdfeed_component_value{component,name}
//	#go_* and process_* system metrics
//
// Exposes them on the configured address under /metrics.
package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mdfeed/logger"
)

var (
	once sync.Once

	batchesDispatched *prometheus.CounterVec
	recordsDecoded    *prometheus.CounterVec
	decodeErrors      *prometheus.CounterVec
	snapshotCommits   *prometheus.CounterVec
	snapshotResyncs   *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
)

func newCounters(reg prometheus.Registerer) {
	batchesDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdfeed_batches_dispatched_total",
		Help: "Number of decoded batches dispatched to the subscription registry",
	}, []string{"kind"})
	recordsDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdfeed_records_decoded_total",
		Help: "Number of records decoded from feed frames",
	}, []string{"kind"})
	decodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdfeed_decode_errors_total",
		Help: "Number of feed frames that could not be decoded",
	}, []string{"reason"})
	snapshotCommits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdfeed_snapshot_commits_total",
		Help: "Number of snapshot transactions committed",
	}, []string{"kind"})
	snapshotResyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdfeed_snapshot_resyncs_total",
		Help: "Number of snapshots restarted by the server",
	}, []string{"kind"})
	messagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdfeed_messages_dropped_total",
		Help: "Number of messages dropped because a channel was full",
	}, []string{"stage"})

	for _, c := range []prometheus.Collector{batchesDispatched, recordsDecoded, decodeErrors, snapshotCommits, snapshotResyncs, messagesDropped} {
		_ = reg.Register(c)
	}
}

// Init registers the counters. When addr is not empty /metrics is served on
// it in the background.
func Init(addr string) {
	once.Do(func() {
		newCounters(prometheus.DefaultRegisterer)
		newComponentValues(prometheus.DefaultRegisterer)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if addr == "" {
			return
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server failed")
			}
		}()
	})
}

func IncrementDispatched(kind string) {
	if batchesDispatched != nil {
		batchesDispatched.WithLabelValues(kind).Inc()
	}
}

func AddDecoded(kind string, n int) {
	if recordsDecoded != nil && n > 0 {
		recordsDecoded.WithLabelValues(kind).Add(float64(n))
	}
}

func IncrementDecodeError(reason string) {
	if decodeErrors != nil {
		decodeErrors.WithLabelValues(reason).Inc()
	}
}

func IncrementCommit(kind string) {
	if snapshotCommits != nil {
		snapshotCommits.WithLabelValues(kind).Inc()
	}
}

func IncrementResync(kind string) {
	if snapshotResyncs != nil {
		snapshotResyncs.WithLabelValues(kind).Inc()
	}
}

func IncrementDropped(stage string) {
	if messagesDropped != nil {
		messagesDropped.WithLabelValues(stage).Inc()
	}
}
