package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Recorder on a private registry.
type Prometheus struct {
	registry       *prom.Registry
	ingested       prom.Counter
	matches        *prom.CounterVec
	decisions      *prom.CounterVec
	classification *prom.CounterVec
	backend        *prom.GaugeVec
	ingestSeconds  prom.Histogram
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates and registers the tessera collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prom.NewRegistry(),
		ingested: prom.NewCounter(prom.CounterOpts{
			Name: "tessera_entities_ingested_total",
			Help: "Total number of entities passed to ingest",
		}),
		matches: prom.NewCounterVec(prom.CounterOpts{
			Name: "tessera_matches_total",
			Help: "Similar entity pairs found during ingest, by outcome",
		}, []string{"outcome"}),
		decisions: prom.NewCounterVec(prom.CounterOpts{
			Name: "tessera_merge_decisions_total",
			Help: "Reviewed merge candidates, by decision",
		}, []string{"decision"}),
		classification: prom.NewCounterVec(prom.CounterOpts{
			Name: "tessera_classifications_total",
			Help: "Conflict classifier verdicts, by category",
		}, []string{"category"}),
		backend: prom.NewGaugeVec(prom.GaugeOpts{
			Name: "tessera_similarity_backend",
			Help: "1 for the similarity backend currently serving queries",
		}, []string{"backend"}),
		ingestSeconds: prom.NewHistogram(prom.HistogramOpts{
			Name:    "tessera_ingest_seconds",
			Help:    "Ingest batch duration in seconds",
			Buckets: prom.DefBuckets,
		}),
	}
	p.registry.MustRegister(p.ingested, p.matches, p.decisions, p.classification, p.backend, p.ingestSeconds)
	return p
}

func (p *Prometheus) IncIngested(n int)                 { p.ingested.Add(float64(n)) }
func (p *Prometheus) IncMatch(outcome string)           { p.matches.WithLabelValues(outcome).Inc() }
func (p *Prometheus) IncDecision(decision string)       { p.decisions.WithLabelValues(decision).Inc() }
func (p *Prometheus) IncClassification(category string) { p.classification.WithLabelValues(category).Inc() }
func (p *Prometheus) ObserveIngestSeconds(s float64)    { p.ingestSeconds.Observe(s) }

// SetBackend marks name as the active backend and clears the others.
func (p *Prometheus) SetBackend(name string) {
	p.backend.Reset()
	p.backend.WithLabelValues(name).Set(1)
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prom.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
