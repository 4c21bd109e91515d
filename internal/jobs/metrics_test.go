package jobmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the first series of name whose labels include
// want, or -1 when none matches.
func sample(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func TestRunRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Start("scan").Finish(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Start("scan").Finish(boom), boom)

	require.Equal(t, 1.0, sample(t, reg, "stockroom_job_runs_total", map[string]string{"job": "scan", "outcome": outcomeSuccess}))
	require.Equal(t, 1.0, sample(t, reg, "stockroom_job_runs_total", map[string]string{"job": "scan", "outcome": outcomeFailure}))
	require.Greater(t, sample(t, reg, "stockroom_job_last_success_timestamp_seconds", map[string]string{"job": "scan"}), 0.0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Start("scan").Finish(boom), boom)
	m.SetExpiringWarranties(time.Hour, 3)
}

func TestExpiringWarrantiesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg).SetExpiringWarranties(720*time.Hour, 4)
	require.Equal(t, 4.0, sample(t, reg, "stockroom_warranties_expiring", map[string]string{"window": "720h0m0s"}))
}
