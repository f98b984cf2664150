package handbook

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Index run outcomes.
const (
	OutcomeIndexed = "indexed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// OtherSource labels index runs for source tags that were not configured.
const OtherSource = "other"

// Query outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// Metrics holds the handbook Prometheus collectors.
type Metrics struct {
	IndexRuns        *prometheus.CounterVec
	ChunksWritten    prometheus.Counter
	NoteFailures     prometheus.Counter
	Queries          *prometheus.CounterVec
	Probes           *prometheus.CounterVec
	RetrievalSeconds prometheus.Histogram

	sources map[string]struct{}
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered. Only the given source tags get their
// own label value; runs for any other tag are counted under OtherSource.
func NewMetrics(reg prometheus.Registerer, sources ...string) *Metrics {
	m := &Metrics{
		sources: make(map[string]struct{}, len(sources)),
		IndexRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handbook",
			Name:      "index_runs_total",
			Help:      "Indexing runs by outcome.",
		}, []string{"source", "outcome"}),
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Name:      "chunks_written_total",
			Help:      "Chunks written to the keyword and vector stores.",
		}),
		NoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handbook",
			Name:      "index_note_failures_total",
			Help:      "Chunks indexed with an empty index note.",
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handbook",
			Name:      "queries_total",
			Help:      "Answer requests by outcome.",
		}, []string{"outcome"}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handbook",
			Name:      "match_probes_total",
			Help:      "Match probes by result.",
		}, []string{"result"}),
		RetrievalSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "handbook",
			Name:      "retrieval_duration_seconds",
			Help:      "Hybrid retrieval latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, source := range sources {
		m.sources[source] = struct{}{}
	}

	if reg != nil {
		reg.MustRegister(m.IndexRuns, m.ChunksWritten, m.NoteFailures, m.Queries, m.Probes, m.RetrievalSeconds)
	}
	return m
}

// SourceLabel returns the label value used for source.
func (m *Metrics) SourceLabel(source string) string {
	if _, ok := m.sources[source]; ok {
		return source
	}
	return OtherSource
}
