package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/grpchost/credentials"
	"github.com/c360/grpchost/health"
	"github.com/c360/grpchost/server"
)

func TestHealthHandlerAggregates(t *testing.T) {
	m, err := server.NewManager(credentials.NewInsecureProvider(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	rec := httptest.NewRecorder()
	healthHandler(m, nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, appName, status.Component)
	assert.True(t, status.IsHealthy())
	require.Len(t, status.SubStatuses, 1)
	assert.Equal(t, "server", status.SubStatuses[0].Component)
}

func TestHealthHandlerReportsUnhealthy(t *testing.T) {
	m, err := server.NewManager(credentials.NewInsecureProvider(), "")
	require.NoError(t, err)
	require.NoError(t, m.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	healthHandler(m, nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.IsUnhealthy())
}
