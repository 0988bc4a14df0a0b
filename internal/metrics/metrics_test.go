package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/michael-freling/file-drive/internal/xerrors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("move", time.Second, nil)
		m.NodesDeleted(3)
		m.BlobRemovalFailed()
		m.ObserveSweep(SweepResult{Removed: 1})
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_ObserveOperation(t *testing.T) {
	m := New()
	m.ObserveOperation("move", time.Millisecond, nil)
	m.ObserveOperation("move", time.Millisecond, xerrors.ErrCycle)
	m.ObserveOperation("move", time.Millisecond, errors.Join(errors.New("x"), xerrors.ErrCycle))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.operationsTotal.WithLabelValues("move", "OK")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.operationsTotal.WithLabelValues("move", "CycleError")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.NodesDeleted(4)
	m.BlobRemovalFailed()
	m.ObserveSweep(SweepResult{Scanned: 10, Orphaned: 2, Removed: 2, Duration: time.Second})

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	body := recorder.Body.String()
	for _, want := range []string{
		"file_drive_nodes_deleted_total 4",
		"file_drive_blob_removals_failed_total 1",
		`file_drive_sweep_objects_total{outcome="removed"} 2`,
		`file_drive_sweep_runs_total{status="success"} 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
}
