package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(BackendRequests.WithLabelValues("rules", OutcomeSuccess))
	BackendRequests.WithLabelValues("rules", OutcomeSuccess).Inc()
	require.Equal(t, before+1, testutil.ToFloat64(BackendRequests.WithLabelValues("rules", OutcomeSuccess)))

	before = testutil.ToFloat64(RateLimited)
	RateLimited.Inc()
	require.Equal(t, before+1, testutil.ToFloat64(RateLimited))
}

func TestMetricNamesLint(t *testing.T) {
	WorkflowsGenerated.WithLabelValues("FHA", OutcomeSuccess).Inc()
	problems, err := testutil.CollectAndLint(WorkflowsGenerated)
	require.NoError(t, err)
	require.Empty(t, problems)
}
