package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, p *Prometheus) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := p.Registry().Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestPrometheusRecorder(t *testing.T) {
	p := NewPrometheus()

	p.IncIngested(3)
	p.IncMatch(OutcomePending)
	p.IncMatch(OutcomePending)
	p.IncMatch(OutcomeAutoMerged)
	p.IncDecision("approved")
	p.IncClassification("correction")
	p.SetBackend("vector")
	p.SetBackend("naive")
	p.ObserveIngestSeconds(0.25)

	fams := gather(t, p)

	assert.Equal(t, 3.0, fams["tessera_entities_ingested_total"].GetMetric()[0].GetCounter().GetValue())

	matches := map[string]float64{}
	for _, m := range fams["tessera_matches_total"].GetMetric() {
		matches[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{OutcomePending: 2, OutcomeAutoMerged: 1}, matches)

	backend := fams["tessera_similarity_backend"].GetMetric()
	require.Len(t, backend, 1, "only the current backend is reported")
	assert.Equal(t, "naive", backend[0].GetLabel()[0].GetValue())

	assert.Equal(t, uint64(1), fams["tessera_ingest_seconds"].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheus()
	p.IncIngested(1)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tessera_entities_ingested_total 1")
}

func TestDefaultRecorder(t *testing.T) {
	t.Cleanup(func() { SetRecorder(nil) })

	assert.Equal(t, Noop(), Default())

	p := NewPrometheus()
	SetRecorder(p)
	assert.Same(t, p, Default())

	SetRecorder(nil)
	assert.Equal(t, Noop(), Default())
}
