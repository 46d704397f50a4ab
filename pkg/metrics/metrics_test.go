package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detox/pkg/metrics"
)

func TestRecordJob(t *testing.T) {
	before := testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("failed"))

	metrics.RecordJob("lint", "failed", 0.25)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("failed")))
}

func TestRecordTeardownAttempt(t *testing.T) {
	ok := testutil.ToFloat64(metrics.TeardownAttempts.WithLabelValues("success"))
	bad := testutil.ToFloat64(metrics.TeardownAttempts.WithLabelValues("failure"))

	metrics.RecordTeardownAttempt(false)
	metrics.RecordTeardownAttempt(true)

	assert.Equal(t, ok+1, testutil.ToFloat64(metrics.TeardownAttempts.WithLabelValues("success")))
	assert.Equal(t, bad+1, testutil.ToFloat64(metrics.TeardownAttempts.WithLabelValues("failure")))
}

func TestWriteTextfile(t *testing.T) {
	metrics.RecordRun("success", 1.5)
	path := filepath.Join(t.TempDir(), "detox.prom")

	require.NoError(t, metrics.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "detox_runs_total")
}

func TestPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// a recorded job must not collide with the pushgateway's job grouping key
	metrics.RecordJob("lint", "succeeded", 0.5)

	require.NoError(t, metrics.Push(srv.URL, "abc"))
	assert.True(t, strings.HasSuffix(gotPath, "/job/detox/run_id/abc"), gotPath)
}

func TestJobDurationLabels(t *testing.T) {
	metrics.RecordJob("typecheck", "failed", 2)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "detox_job_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			assert.NotContains(t, labels, "job")
			if labels["job_name"] == "typecheck" {
				found = true
			}
		}
	}
	assert.True(t, found)
}
