package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.IncCounter("detect", map[string]string{LabelProtocol: "x402", LabelOutcome: "error"})
	rec.IncCounter("detect", map[string]string{LabelProtocol: "x402", LabelOutcome: "error"})
	rec.IncCounter("detect", map[string]string{LabelProtocol: "l402"})
	rec.ObserveLatency("probe", 150*time.Millisecond, map[string]string{LabelProtocol: "x402"})

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.counters.WithLabelValues("detect", "x402", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.counters.WithLabelValues("detect", "l402", "")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.histogram))
}

func TestPrometheusRecorder_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err)
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, NoopRecorder{}, OrNoop(nil))
}
