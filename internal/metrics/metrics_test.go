package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposure(t *testing.T) {
	EventsApplied.WithLabelValues("likes").Inc()
	EventsDeduplicated.WithLabelValues("likes").Inc()
	EventsDropped.WithLabelValues("comments").Inc()
	Mutations.WithLabelValues("like").Inc()
	Rollbacks.WithLabelValues("like").Inc()
	RelayPublished.WithLabelValues("posts").Inc()
	ObserveRemoteWrite("likes", time.Now().Add(-20*time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, m := range []string{
		"feedsync_events_applied_total",
		"feedsync_events_deduplicated_total",
		"feedsync_events_dropped_total",
		"feedsync_mutations_total",
		"feedsync_rollbacks_total",
		"feedsync_remote_write_seconds",
		"feedsync_relay_published_total",
	} {
		assert.Contains(t, body, m)
	}
}

func TestCounterLabels(t *testing.T) {
	before := testutil.ToFloat64(Rollbacks.WithLabelValues("comment"))
	Rollbacks.WithLabelValues("comment").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Rollbacks.WithLabelValues("comment")))
}
