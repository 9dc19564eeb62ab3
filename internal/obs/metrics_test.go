package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestParseBucketsCSV(t *testing.T) {
	require.Nil(t, ParseBucketsCSV(""))
	require.Equal(t, []float64{5, 10, 50}, ParseBucketsCSV("5,10,50"))
	require.Equal(t, []float64{5, 50}, ParseBucketsCSV(" 5 , junk , -1, 50 "))
}

func TestDurationMillis(t *testing.T) {
	require.Equal(t, 1500.0, DurationMillis(1500*time.Millisecond))
}

func TestNewHTTPMetricsIdempotentRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewHTTPMetrics("pos", nil, reg)
	second := NewHTTPMetrics("pos", nil, reg)
	require.Same(t, first.ReqTotal, second.ReqTotal)
	require.Same(t, first.ReqDur, second.ReqDur)
}
