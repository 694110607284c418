package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersMove(t *testing.T) {
	before := testutil.ToFloat64(StepsTotal.WithLabelValues("live"))
	StepsTotal.WithLabelValues("live").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(StepsTotal.WithLabelValues("live")))

	before = testutil.ToFloat64(DiscardedVersionsTotal)
	DiscardedVersionsTotal.Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(DiscardedVersionsTotal))
}

func TestHandlerServesCollectors(t *testing.T) {
	StepsTotal.WithLabelValues("replay").Inc()
	EngineErrorsTotal.WithLabelValues("register read").Inc()
	StepDuration.Observe(0.001)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	for _, name := range []string{
		"chrono_steps_total",
		"chrono_engine_errors_total",
		"chrono_step_duration_seconds",
		"chrono_sessions_open",
	} {
		assert.Contains(t, string(body), name)
	}
}
