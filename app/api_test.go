package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fiffu/feedbucket/config"
	"github.com/fiffu/feedbucket/lib"
	"github.com/fiffu/feedbucket/lib/models"
	"github.com/fiffu/feedbucket/lib/scheduler"
	"github.com/fiffu/feedbucket/lib/store"
	"github.com/fiffu/feedbucket/senders"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{FetchTimeoutSecs: 5, WebhookTimeoutSecs: 5}
	log := zap.NewNop()
	st := store.NewMemoryStore()

	coord := lib.NewCoordinator(log, st, lib.NewFetcher(cfg, log, nil), lib.NewDeduper(st))
	sched := scheduler.New(cfg, log, st, coord.RefreshOne, senders.Registry{})
	svc := lib.NewService(cfg, log, st, coord, sched, lib.NewAssembler(log, st), senders.Registry{})
	return router(cfg, log, svc, NewCommands(svc))
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Health(t *testing.T) {
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAPI_FeedEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := postForm(t, h, "/api/feeds", url.Values{
		"url":  {"https://blog.example.com/rss"},
		"name": {"Example"},
		"tags": {"tech, golang"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var feed models.Feed
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Equal(t, "Example", feed.Name)
	assert.Equal(t, []string{"tech", "golang"}, feed.Tags)
	assert.True(t, feed.Active)

	// Duplicate URL conflicts, bad URL is rejected.
	rec = postForm(t, h, "/api/feeds", url.Values{"url": {"https://blog.example.com/rss"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = postForm(t, h, "/api/feeds", url.Values{"url": {"ftp://nope"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/feeds", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var feeds models.Feeds
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feeds))
	assert.Len(t, feeds, 1)

	rec = postForm(t, h, "/api/feeds/1/toggle", url.Values{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.False(t, feed.Active)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/feeds/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/feeds/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ScheduleEndpoints(t *testing.T) {
	h := newTestRouter(t)

	body := `{"name": "hourly", "interval": "1h", "max_items": 5}`
	req := httptest.NewRequest(http.MethodPost, "/api/schedules", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var view ScheduleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "hourly", view.Name)
	assert.Equal(t, "1h0m0s", view.Interval)
	assert.True(t, view.Enabled)

	req = httptest.NewRequest(http.MethodPost, "/api/schedules", strings.NewReader(`{"name": "bad", "interval": "soon"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/schedules", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var views []ScheduleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 1)

	req = httptest.NewRequest(http.MethodPatch, "/api/schedules/hourly", strings.NewReader(`{"enabled": false, "interval": "30m"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.Enabled)
	assert.Equal(t, "30m0s", view.Interval)

	req = httptest.NewRequest(http.MethodPatch, "/api/schedules/hourly", strings.NewReader(`{"interval": "soon"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPatch, "/api/schedules/missing", strings.NewReader(`{"enabled": true}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/schedules/hourly", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/schedules/hourly", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_DigestEndpoint(t *testing.T) {
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/digest?days=7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var d models.Digest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Zero(t, d.TotalItems)
}

func TestAPI_CommandEndpoint(t *testing.T) {
	h := newTestRouter(t)

	rec := postForm(t, h, "/api/commands", url.Values{"command": {"list"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No feeds registered")

	rec = postForm(t, h, "/api/commands", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postForm(t, h, "/api/commands", url.Values{"command": {"bogus"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
