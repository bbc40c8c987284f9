package metric

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HandlerServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordLinkStatus(true)

	srv := NewServer(0, "", registry)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pumpview_link_connected 1")
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := NewServer(9999, "/m", NewMetricsRegistry())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Defaults(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry())
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())
}

func TestServer_StartRequiresRegistry(t *testing.T) {
	srv := NewServer(19091, "/metrics", nil)
	err := srv.Start(context.Background())
	require.Error(t, err)
}

func TestServer_StopWhenNotRunning(t *testing.T) {
	srv := NewServer(19092, "/metrics", NewMetricsRegistry())
	assert.NoError(t, srv.Stop())
}

func TestServer_StartStopsOnContextCancel(t *testing.T) {
	srv := NewServer(19093, "/metrics", NewMetricsRegistry())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:19093/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
