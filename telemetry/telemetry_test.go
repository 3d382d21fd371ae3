package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry(t *testing.T) {
	t.Run("noop until initialized", func(t *testing.T) {
		require.Nil(t, GetMetricsHandler())
		assert.IsType(t, NoopStat{}, NewCounter("unused_total", "unused"))
		assert.IsType(t, noopCounterVec{}, NewCounterVec("unused_vec_total", "unused", []string{"table"}))
		assert.NotPanics(t, func() {
			ChangeEventsTotal.With("insert").Inc()
			StreamIterationSeconds.Observe(0.1)
			LastCommittedOffset.SetToCurrentTime()
		})
	})

	t.Run("exports connector metrics", func(t *testing.T) {
		InitializeTelemetry("inventory")
		InitializeTelemetry("ignored")

		ChangeEventsTotal.With("update").Inc()
		ChunksTotal.With("dbo.orders", "done").Inc()
		SnapshotLockSeconds.Observe(0.2)

		handler := GetMetricsHandler()
		require.NotNil(t, handler)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, recorder.Code)

		body, err := io.ReadAll(recorder.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `olake_mssql_cdc_change_events_total{database="inventory",kind="update"} 1`)
		assert.Contains(t, string(body), `olake_mssql_cdc_incremental_chunks_total{database="inventory",result="done",table="dbo.orders"} 1`)
		assert.Contains(t, string(body), "olake_mssql_cdc_snapshot_lock_seconds_count")
		assert.NotContains(t, string(body), "ignored")
	})
}
