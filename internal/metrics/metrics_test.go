package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveRequest("/api/card", http.MethodPost, 201, 15*time.Millisecond)
	m.Operation("insert_card", "ok")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Message("in", "template:join")
	m.SessionDropped()
	m.SideEffectFailed("presence")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/card", http.MethodPost, "201")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("insert_card", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.wsConnections))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.wsMessages.WithLabelValues("in", "template:join")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.wsDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sideEffectErrors.WithLabelValues("presence")))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)
	_, err = New(registry)
	assert.Error(t, err)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("/x", http.MethodGet, 200, time.Millisecond)
	m.Operation("x", "ok")
	m.ConnectionOpened()
	m.RosterJoined()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.Operation("move_card", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "itinera_planner_operations_total"))
}
