package server

import (
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skyloom-radio/sdrcore/metrics"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.New()
}

func newTestZstdEncoder(t *testing.T) *zstd.Encoder {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

type gathered struct {
	authFailures int
}

func testutilGather(t *testing.T, m *metrics.Metrics) gathered {
	t.Helper()
	return gathered{authFailures: int(testutil.ToFloat64(m.AuthFailuresTotal))}
}
