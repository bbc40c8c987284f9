package archive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/metric"
	"github.com/Suhridx/pump-dashboard/pkg/retry"
)

type archiveServer struct {
	*httptest.Server
	folders  []Folder
	files    map[string]string
	failures atomic.Int32
	lists    atomic.Int32
}

func newArchiveServer(t *testing.T) *archiveServer {
	t.Helper()
	s := &archiveServer{
		folders: []Folder{
			{Name: "2024-05", Files: []string{"level_01.txt", "level_03.txt", "level_02.txt"}},
			{Name: "2024-06", Files: []string{"level_01.txt"}},
		},
		files: map[string]string{
			"2024-06/level_01.txt": `{"timestamp":"2024-06-01 10:00:00","tank_level":40,"res_level":60,"pump_state":true}`,
		},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *archiveServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		http.Error(w, "upstream busy", http.StatusBadGateway)
		return
	}

	key := r.URL.Query().Get("key")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case key == "all":
		s.lists.Add(1)
		_ = json.NewEncoder(w).Encode(s.folders)
	case key == "forbidden":
		http.Error(w, "nope", http.StatusForbidden)
	case key == "gone":
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"File not found"}`))
	case key == "broken":
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"script crashed"}`))
	case key == "garbage":
		_, _ = w.Write([]byte("<html>"))
	default:
		text, ok := s.files[key+"/"+r.URL.Query().Get("filename")]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "file not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(url, append([]Option{WithRetry(fastRetry())}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestClient_ListFoldersIsCached(t *testing.T) {
	srv := newArchiveServer(t)
	c := newTestClient(t, srv.URL)

	folders, err := c.ListFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "2024-05", folders[0].Name)

	_, err = c.ListFolders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.lists.Load())

	c.Invalidate()
	_, err = c.ListFolders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.lists.Load())
}

func TestClient_ListFoldersRetriesServerErrors(t *testing.T) {
	srv := newArchiveServer(t)
	srv.failures.Store(2)
	c := newTestClient(t, srv.URL)

	folders, err := c.ListFolders(context.Background())
	require.NoError(t, err)
	assert.Len(t, folders, 2)
}

func TestClient_ListFoldersUnavailable(t *testing.T) {
	srv := newArchiveServer(t)
	srv.failures.Store(10)
	c := newTestClient(t, srv.URL)

	_, err := c.ListFolders(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrArchiveUnavailable)
	assert.True(t, errors.IsTransient(err))
}

func TestClient_Fetch(t *testing.T) {
	srv := newArchiveServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	t.Run("text", func(t *testing.T) {
		doc := c.Fetch(ctx, "2024-06", "level_01.txt")
		assert.False(t, doc.Failed)
		assert.Equal(t, "level_01.txt", doc.Name)
		assert.Contains(t, doc.Text, "tank_level")
	})

	t.Run("error body", func(t *testing.T) {
		doc := c.Fetch(ctx, "2024-06", "missing.txt")
		assert.True(t, doc.Failed)
		assert.Equal(t, ErrorDocumentName, doc.Name)
		assert.Equal(t, "Error: file not found", doc.Text)
	})

	t.Run("client error is not retried", func(t *testing.T) {
		doc := c.Fetch(ctx, "forbidden", "x")
		assert.True(t, doc.Failed)
		assert.Equal(t, FetchErrorDocumentName, doc.Name)
		assert.Contains(t, doc.Text, "Failed to fetch file: ")
		assert.Contains(t, doc.Text, "403")
		assert.NotContains(t, doc.Text, "non-retryable")
	})

	t.Run("error body on 404", func(t *testing.T) {
		doc := c.Fetch(ctx, "gone", "x")
		assert.True(t, doc.Failed)
		assert.Equal(t, ErrorDocumentName, doc.Name)
		assert.Equal(t, "Error: File not found", doc.Text)
	})

	t.Run("error body on 500 after retries", func(t *testing.T) {
		doc := c.Fetch(ctx, "broken", "x")
		assert.True(t, doc.Failed)
		assert.Equal(t, ErrorDocumentName, doc.Name)
		assert.Equal(t, "Error: script crashed", doc.Text)
	})

	t.Run("unparseable body", func(t *testing.T) {
		doc := c.Fetch(ctx, "garbage", "x")
		assert.True(t, doc.Failed)
		assert.Equal(t, FetchErrorDocumentName, doc.Name)
	})

	t.Run("unreachable", func(t *testing.T) {
		dead := newTestClient(t, "http://127.0.0.1:1")
		doc := dead.Fetch(ctx, "2024-06", "level_01.txt")
		assert.True(t, doc.Failed)
		assert.Equal(t, FetchErrorDocumentName, doc.Name)
		assert.NotContains(t, doc.Text, "retry failed")
	})
}

func TestClient_CacheMetrics(t *testing.T) {
	srv := newArchiveServer(t)
	registry := metric.NewMetricsRegistry()
	c := newTestClient(t, srv.URL, WithMetrics(registry))

	_, _ = c.ListFolders(context.Background())
	_, _ = c.ListFolders(context.Background())

	stats := c.folders.Stats()
	assert.Equal(t, int64(1), stats.Hits())
	assert.Equal(t, int64(1), stats.Misses())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("not a url")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = NewClient("ftp://archive.example.com")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = NewClient("https://archive.example.com", WithTimeout(0))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = NewClient("https://archive.example.com", WithCacheTTL(-time.Second))
	assert.Error(t, err)

	c, err := NewClient("https://archive.example.com/exec")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.http.Timeout)
}

func TestFolder_Latest(t *testing.T) {
	f := Folder{Name: "x", Files: []string{"b.txt", "c.txt", "a.txt"}}
	latest, ok := f.Latest()
	assert.True(t, ok)
	assert.Equal(t, "c.txt", latest)
	assert.Equal(t, []string{"b.txt", "c.txt", "a.txt"}, f.Files)

	_, ok = Folder{}.Latest()
	assert.False(t, ok)
}
