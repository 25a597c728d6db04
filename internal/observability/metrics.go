package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type engineMetrics struct {
	retrievalDuration *prometheus.HistogramVec
	retrievalResults  prometheus.Histogram
	retrievalDegraded *prometheus.CounterVec
	branchFailures    *prometheus.CounterVec

	ingestTotal    *prometheus.CounterVec
	ingestDuration prometheus.Histogram

	decayRunsTotal     *prometheus.CounterVec
	decayRunDuration   prometheus.Histogram
	recordsDecayed     prometheus.Counter
	recordsFlagged     prometheus.Counter
	reconcileSupersede prometheus.Counter

	reinforceTotal *prometheus.CounterVec
	reinforceQueue prometheus.Gauge

	embeddingCacheHits *prometheus.CounterVec

	recordsTotal *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		m := &engineMetrics{
			retrievalDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "recall_retrieval_duration_seconds",
					Help:    "Retrieval duration in seconds by stage.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"stage"},
			),
			retrievalResults: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "recall_retrieval_results",
					Help:    "Number of records returned per retrieval.",
					Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
				},
			),
			retrievalDegraded: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recall_retrieval_degraded_total",
					Help: "Retrievals answered without one or more sources, by reason.",
				},
				[]string{"reason"},
			),
			branchFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recall_retrieval_branch_failures_total",
					Help: "Candidate search branch failures by branch.",
				},
				[]string{"branch"},
			),
			ingestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recall_ingest_total",
					Help: "Ingested candidates by action and status.",
				},
				[]string{"action", "status"},
			),
			ingestDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "recall_ingest_duration_seconds",
					Help:    "Ingest duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			decayRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recall_decay_runs_total",
					Help: "Decay runs by status.",
				},
				[]string{"status"},
			),
			decayRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "recall_decay_run_duration_seconds",
					Help:    "Decay run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			recordsDecayed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "recall_records_decayed_total",
					Help: "Records whose confidence was lowered by decay.",
				},
			),
			recordsFlagged: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "recall_records_flagged_cleanup_total",
					Help: "Records transitioned to pending_cleanup.",
				},
			),
			reconcileSupersede: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "recall_records_superseded_total",
					Help: "Duplicate records folded into a keeper by reconcile.",
				},
			),
			reinforceTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recall_reinforcements_total",
					Help: "Reinforcement writes by status.",
				},
				[]string{"status"},
			),
			reinforceQueue: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "recall_reinforcement_queue_depth",
					Help: "Reinforcements waiting to be applied.",
				},
			),
			embeddingCacheHits: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recall_embedding_cache_total",
					Help: "Embedding cache lookups by result.",
				},
				[]string{"result"},
			),
			recordsTotal: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "recall_records",
					Help: "Live records by kind.",
				},
				[]string{"kind"},
			),
		}

		prometheus.MustRegister(
			m.retrievalDuration,
			m.retrievalResults,
			m.retrievalDegraded,
			m.branchFailures,
			m.ingestTotal,
			m.ingestDuration,
			m.decayRunsTotal,
			m.decayRunDuration,
			m.recordsDecayed,
			m.recordsFlagged,
			m.reconcileSupersede,
			m.reinforceTotal,
			m.reinforceQueue,
			m.embeddingCacheHits,
			m.recordsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordRetrieval(duration time.Duration, results int) {
	m := getMetrics()
	m.retrievalDuration.WithLabelValues("total").Observe(duration.Seconds())
	m.retrievalResults.Observe(float64(results))
}

func RecordRetrievalStage(stage string, duration time.Duration) {
	m := getMetrics()
	m.retrievalDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordRetrievalDegraded(reason string) {
	getMetrics().retrievalDegraded.WithLabelValues(reason).Inc()
}

func RecordBranchFailure(branch string) {
	getMetrics().branchFailures.WithLabelValues(branch).Inc()
}

func RecordIngest(action string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.ingestTotal.WithLabelValues(action, status).Inc()
	m.ingestDuration.Observe(duration.Seconds())
}

func RecordDecayRun(duration time.Duration, decayed, flagged int, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.decayRunsTotal.WithLabelValues(status).Inc()
	m.decayRunDuration.Observe(duration.Seconds())
	m.recordsDecayed.Add(float64(decayed))
	m.recordsFlagged.Add(float64(flagged))
}

func RecordDecaySkipped() {
	getMetrics().decayRunsTotal.WithLabelValues("skipped").Inc()
}

func RecordSuperseded(n int) {
	getMetrics().reconcileSupersede.Add(float64(n))
}

func RecordReinforcement(status string) {
	getMetrics().reinforceTotal.WithLabelValues(status).Inc()
}

func SetReinforcementQueueDepth(depth int) {
	getMetrics().reinforceQueue.Set(float64(depth))
}

func RecordEmbeddingCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	getMetrics().embeddingCacheHits.WithLabelValues(result).Inc()
}

func SetRecordCounts(byKind map[string]int) {
	m := getMetrics()
	for kind, n := range byKind {
		m.recordsTotal.WithLabelValues(kind).Set(float64(n))
	}
}
