package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndExpose(t *testing.T) {
	m := NewMetrics()

	m.RecordCallInitiation("initiated")
	m.RecordCallInitiation("initiated")
	m.RecordCallInitiation("failed")
	m.RecordWebhookEvent("applied")
	m.RecordOutcome("neutral", true)
	m.RecordUpstream("twilio", "dial", errors.New("boom"), 0.2)
	m.RecordHTTPRequest("POST", "/calls", 200, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallInitiations.WithLabelValues("initiated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("neutral", "true")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dialer_call_initiations_total{result="failed"} 1`)
	assert.Contains(t, string(body), `dialer_upstream_request_duration_seconds_count{operation="dial",provider="twilio",status="error"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordCallInitiation("initiated")
	m.RecordWebhookEvent("applied")
	m.RecordOutcome("neutral", false)
	m.RecordBatchContact("failed")
	m.RecordUpstream("voice_ai", "signed_session", nil, 1)
	m.RecordHTTPRequest("GET", "/health", 200, 0)
	assert.Nil(t, m.Registry())
}
