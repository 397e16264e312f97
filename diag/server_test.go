package diag

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/sitecache"
	"github.com/jmgilman/go/sitecache/storage"
)

func newTestServer(t *testing.T) (*sitecache.Manager, http.Handler) {
	t.Helper()

	m, err := sitecache.New(context.Background(), sitecache.DefaultConfig(),
		sitecache.WithAdapter(storage.NewMemory()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m, NewServer(m, nil)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Stats(t *testing.T) {
	ctx := context.Background()
	m, h := newTestServer(t)
	require.NoError(t, m.Set(ctx, "/news", []string{"a"}))

	rec := do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats sitecache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, storage.TypeMemory, stats.Backend)
	assert.True(t, stats.Online)
}

func TestServer_Keys(t *testing.T) {
	ctx := context.Background()
	m, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())

	require.NoError(t, m.Set(ctx, "/pages", 1))
	require.NoError(t, m.Set(ctx, "/news", 1))

	rec = do(t, h, http.MethodGet, "/keys", "")
	assert.JSONEq(t, `{"keys":["/news","/pages"]}`, rec.Body.String())
}

func TestServer_Entries(t *testing.T) {
	ctx := context.Background()
	m, h := newTestServer(t)
	require.NoError(t, m.Set(ctx, "/news", map[string]int{"id": 1}, sitecache.Tags("news")))
	require.NoError(t, m.Set(ctx, "/news", map[string]int{"id": 2}, sitecache.Params(map[string]any{"page": 2})))

	t.Run("get", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/entries/%2Fnews", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp EntryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.JSONEq(t, `{"id":1}`, string(resp.Data))
		assert.Equal(t, "/news", resp.Metadata.Hash)
		assert.Equal(t, []string{"news"}, resp.Metadata.Tags)
		assert.False(t, resp.Stale)
	})

	t.Run("get with params", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/entries/%2Fnews?params="+`%7B%22page%22%3A2%7D`, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp EntryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.JSONEq(t, `{"id":2}`, string(resp.Data))
	})

	t.Run("bad params", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/entries/%2Fnews?params=nope", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/entries/%2Fmissing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"entry not found"}`, rec.Body.String())
	})

	t.Run("delete", func(t *testing.T) {
		rec := do(t, h, http.MethodDelete, "/entries/%2Fnews", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.False(t, m.Has(ctx, "/news"))
		assert.True(t, m.Has(ctx, "/news", sitecache.Params(map[string]any{"page": 2})))
	})
}

func TestServer_Invalidate(t *testing.T) {
	ctx := context.Background()
	m, h := newTestServer(t)
	require.NoError(t, m.Set(ctx, "A", 1, sitecache.Tags("x")))
	require.NoError(t, m.Set(ctx, "B", 2, sitecache.Tags("y")))
	require.NoError(t, m.Set(ctx, "C", 3, sitecache.Tags("x", "y")))

	rec := do(t, h, http.MethodPost, "/invalidate", `{"tags":["x"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":2}`, rec.Body.String())
	assert.Equal(t, []string{"b"}, m.Keys(ctx))

	rec = do(t, h, http.MethodPost, "/invalidate", `{"tags":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/invalidate", `{"tags":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Clear(t *testing.T) {
	ctx := context.Background()
	m, h := newTestServer(t)
	require.NoError(t, m.Set(ctx, "a", 1))
	require.NoError(t, m.Set(ctx, "b", 2))

	rec := do(t, h, http.MethodDelete, "/cache", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, m.Keys(ctx))
}

func TestServer_Events(t *testing.T) {
	m, h := newTestServer(t)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	require.NoError(t, m.Set(context.Background(), "/news", 1))

	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")

		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	assert.Equal(t, string(sitecache.EventItemAdded), event)

	var payload EventPayload
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.Equal(t, sitecache.EventItemAdded, payload.Type)
	assert.Equal(t, "/news", payload.Key)
	assert.Empty(t, payload.Error)
}
