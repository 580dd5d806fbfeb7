package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablab-manager/calendar-sync/internal/api/handlers"
	"github.com/fablab-manager/calendar-sync/internal/api/middleware"
	"github.com/fablab-manager/calendar-sync/internal/backend"
	"github.com/fablab-manager/calendar-sync/internal/calendar"
	"github.com/fablab-manager/calendar-sync/internal/storage"
	"github.com/fablab-manager/calendar-sync/internal/websocket"
)

const formationsJSON = `[
	{"id": 1, "nom": "Impression 3D", "dateDebut": "2025-03-10", "dateFin": "2025-03-12", "statut": "PLANIFIEE"},
	{"id": 2, "nom": "Découpe laser", "dateDebut": "2025-03-20T09:00:00", "statut": "EN_COURS"}
]`

type fakeBackend struct {
	mu      sync.Mutex
	failing bool
}

func (b *fakeBackend) setFailing(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = v
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	failing := b.failing
	b.mu.Unlock()

	if failing {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, formationsJSON)
}

type testEnv struct {
	server  *httptest.Server
	backend *fakeBackend
	view    *calendar.View
	hub     *websocket.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fb := &fakeBackend{}
	backendSrv := httptest.NewServer(fb)
	t.Cleanup(backendSrv.Close)

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.RunMigrations(context.Background(), db, zerolog.Nop()))

	hub := websocket.NewHub(zerolog.Nop())
	go hub.Run()
	t.Cleanup(hub.Stop)

	client := backend.NewClient(backendSrv.URL, "token", "/formations/manager", 5*time.Second)
	synchronizer := calendar.NewSynchronizer(client, storage.NewCacheRepository(db), zerolog.Nop(),
		calendar.WithPublisher(websocket.NewEventBroadcaster(hub)))

	scheduler := calendar.NewScheduler(zerolog.Nop())
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	view := calendar.NewView(synchronizer, scheduler, time.Minute, zerolog.Nop())
	outcome, err := view.Activate(context.Background())
	require.NoError(t, err)
	require.Equal(t, calendar.OutcomeCacheWritten, outcome)
	t.Cleanup(view.Deactivate)

	server := httptest.NewServer(NewRouter(db, hub, view, zerolog.Nop()))
	t.Cleanup(server.Close)

	return &testEnv{server: server, backend: fb, view: view, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	body := decode[handlers.HealthResponse](t, resp)
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, body.DBConnected)
	assert.True(t, body.ViewActive)
	assert.NotNil(t, body.LastUpdated)
	assert.NotNil(t, body.NextRefreshAt)
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/calendar/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[handlers.EventsResponse](t, resp)
	assert.Len(t, body.Events, len(calendar.DefaultStaticEvents())+2)
	assert.Equal(t, string(calendar.SourceBackend), body.Source)
	assert.NotEmpty(t, body.Hash)

	byID := map[string]string{}
	for _, e := range body.Events {
		byID[e.ID] = e.End
	}
	assert.Equal(t, "2025-03-12", byID["formation-1"])
	assert.Equal(t, "2025-03-21", byID["formation-2"])
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)

	t.Run("bad force flag", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/calendar/refresh?force=maybe")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decode[middleware.ErrorResponse](t, resp)
		assert.Equal(t, middleware.ErrBadRequest, body.Error)
		assert.NotEmpty(t, body.RequestID)
	})

	t.Run("unforced within ttl", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/calendar/refresh?force=false")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(calendar.OutcomeServedFromCache), decode[handlers.RefreshResponse](t, resp).Outcome)
	})

	t.Run("forced with unchanged data", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/calendar/refresh")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(calendar.OutcomeHashUnchanged), decode[handlers.RefreshResponse](t, resp).Outcome)
	})

	t.Run("backend down serves stale cache", func(t *testing.T) {
		env.backend.setFailing(true)
		defer env.backend.setFailing(false)

		resp := env.do(t, http.MethodPost, "/api/calendar/refresh?force=true")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[handlers.RefreshResponse](t, resp)
		assert.Equal(t, string(calendar.OutcomeFallbackToStale), body.Outcome)
		assert.Equal(t, string(calendar.SourceStaleCache), body.Calendar.Source)
		assert.Len(t, body.Calendar.Events, len(calendar.DefaultStaticEvents())+2)
	})

	t.Run("inactive view", func(t *testing.T) {
		env.view.Deactivate()
		resp := env.do(t, http.MethodPost, "/api/calendar/refresh")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestExportICS(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/calendar/events.ics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/calendar"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "UID:formation-1")
	assert.Contains(t, body, "SUMMARY:Impression 3D")
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "fablab_calendar_refresh_outcomes_total")
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	read := func() (websocket.MessageType, json.RawMessage) {
		var msg struct {
			Type    websocket.MessageType `json:"type"`
			Payload json.RawMessage       `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg.Type, msg.Payload
	}

	typ, _ := read()
	assert.Equal(t, websocket.TypeHello, typ)

	typ, payload := read()
	require.Equal(t, websocket.TypeCalendarEventsPublished, typ)
	var events websocket.CalendarEventsPayload
	require.NoError(t, json.Unmarshal(payload, &events))
	assert.Len(t, events.Events, len(calendar.DefaultStaticEvents())+2)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	typ, _ = read()
	assert.Equal(t, websocket.TypePong, typ)

	// A stale-cache fallback pushes the list and then the failure notice.
	env.backend.setFailing(true)
	outcome, err := env.view.TriggerRefresh(true)
	require.NoError(t, err)
	require.Equal(t, calendar.OutcomeFallbackToStale, outcome)

	typ, _ = read()
	assert.Equal(t, websocket.TypeCalendarEventsPublished, typ)
	typ, payload = read()
	assert.Equal(t, websocket.TypeCalendarRefreshFailed, typ)
	var failed websocket.RefreshFailedPayload
	require.NoError(t, json.Unmarshal(payload, &failed))
	assert.Equal(t, string(calendar.OutcomeFallbackToStale), failed.Outcome)
}
