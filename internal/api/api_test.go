package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilgisen/chanpost/internal/metrics"
	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/scheduler"
	"github.com/bilgisen/chanpost/internal/storage/memory"
)

type staticStatus scheduler.State

func (s staticStatus) State() scheduler.State { return scheduler.State(s) }

func newTestApp(t *testing.T, apiKey string) (*memory.Ledger, *prometheus.Registry, func(*http.Request) *http.Response) {
	t.Helper()
	ledger := memory.New()
	reg := prometheus.NewRegistry()
	h := NewHandlers(ledger, staticStatus{Cycles: 4, LastPublished: 2}, zerolog.Nop())
	app := NewApp(ServerConfig{HTTPTimeout: 5 * time.Second, APIKey: apiKey}, h, reg)

	return ledger, reg, func(req *http.Request) *http.Response {
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthCheck(t *testing.T) {
	_, _, do := newTestApp(t, "")

	resp := do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	sched, ok := body["scheduler"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 4.0, sched["cycles"])
	assert.Equal(t, 2.0, sched["last_published"])
}

func TestRecentPosts(t *testing.T) {
	ledger, _, do := newTestApp(t, "")
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		require.NoError(t, ledger.Record(context.Background(), models.PublishRecord{
			Identifier:  fmt.Sprintf("https://habr.com/ru/articles/%d/", i),
			Title:       fmt.Sprintf("Post %d", i),
			Source:      models.SourceHabr,
			PublishedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	body := decode(t, do(httptest.NewRequest(http.MethodGet, "/api/v1/posts/recent", nil)))
	assert.Equal(t, 10.0, body["limit"])
	items := body["items"].([]interface{})
	require.Len(t, items, 10)
	assert.Equal(t, "Post 14", items[0].(map[string]interface{})["title"])

	body = decode(t, do(httptest.NewRequest(http.MethodGet, "/api/v1/posts/recent?limit=3", nil)))
	items = body["items"].([]interface{})
	require.Len(t, items, 3)
	assert.Equal(t, "habr", items[2].(map[string]interface{})["source"])
}

func TestRecentPosts_InvalidLimit(t *testing.T) {
	_, _, do := newTestApp(t, "")

	for _, q := range []string{"0", "101", "-5"} {
		resp := do(httptest.NewRequest(http.MethodGet, "/api/v1/posts/recent?limit="+q, nil))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, q)
		body := decode(t, resp)
		assert.Contains(t, body["fields"], "Limit")
	}

	resp := do(httptest.NewRequest(http.MethodGet, "/api/v1/posts/recent?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecentPosts_LedgerDown(t *testing.T) {
	ledger, _, do := newTestApp(t, "")
	ledger.Fail = errors.New("database is locked")

	resp := do(httptest.NewRequest(http.MethodGet, "/api/v1/posts/recent", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRecentPosts_APIKey(t *testing.T) {
	_, _, do := newTestApp(t, "s3cret")

	resp := do(httptest.NewRequest(http.MethodGet, "/api/v1/posts/recent", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/posts/recent", nil)
	req.Header.Set("X-API-Key", "Bearer s3cret")
	resp = do(req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open.
	resp = do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, reg, do := newTestApp(t, "")
	m := metrics.New(reg)
	m.Published(models.SourceGitHub)

	resp := do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `chanpost_posts_published_total{source="github"} 1`)
}

func TestNotFound(t *testing.T) {
	_, _, do := newTestApp(t, "")
	resp := do(httptest.NewRequest(http.MethodGet, "/api/v1/news", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
