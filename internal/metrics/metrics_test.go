package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHelpersAreNoOpsBeforeInit(t *testing.T) {
	// Must not panic without Init.
	ObserveRequest("direct", "ok")
	ObserveBlock("direct")
	ObserveRotation("reactive")
	StrategyFailure("direct", "blocked")
	AddRecords(3)
	ObserveJob("running")
	IncActiveJobs()
	DecActiveJobs()
}

func TestInitAndObserve(t *testing.T) {
	Init()
	Init() // idempotent

	ObserveRequest("direct", "ok")
	ObserveRequest("direct", "ok")
	require.Equal(t, float64(2), testutil.ToFloat64(requestsTotal.WithLabelValues("direct", "ok")))

	ObserveBlock("browser")
	require.Equal(t, float64(1), testutil.ToFloat64(blocksTotal.WithLabelValues("browser")))

	ObserveRotation("proactive")
	require.Equal(t, float64(1), testutil.ToFloat64(rotationsTotal.WithLabelValues("proactive")))

	StrategyFailure("direct", "exhausted")
	require.Equal(t, float64(1), testutil.ToFloat64(strategyFailureTotal.WithLabelValues("direct", "exhausted")))

	AddRecords(5)
	AddRecords(0)
	AddRecords(-1)
	require.Equal(t, float64(5), testutil.ToFloat64(recordsTotal))

	ObserveJob("completed")
	require.Equal(t, float64(1), testutil.ToFloat64(jobsTotal.WithLabelValues("completed")))

	IncActiveJobs()
	IncActiveJobs()
	DecActiveJobs()
	require.Equal(t, float64(1), testutil.ToFloat64(activeJobs))
}
