package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSyncer struct {
	RunFunc          func(ctx context.Context, dir model.Direction) (model.SyncResult, error)
	RunScheduledFunc func(ctx context.Context) (model.ScheduledOutcome, error)
	counts           model.StatusCounts
}

func (m *mockSyncer) Run(ctx context.Context, dir model.Direction) (model.SyncResult, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, dir)
	}
	return model.SyncResult{Direction: dir}, nil
}

func (m *mockSyncer) RunScheduled(ctx context.Context) (model.ScheduledOutcome, error) {
	if m.RunScheduledFunc != nil {
		return m.RunScheduledFunc(ctx)
	}
	return model.ScheduledOutcome{Ran: false, Reason: "scheduled sync disabled"}, nil
}

func (m *mockSyncer) Status(ctx context.Context) (model.StatusCounts, error) {
	return m.counts, nil
}

type memSettings struct {
	mu sync.Mutex
	st model.SyncSettings
}

func (m *memSettings) GetSyncSettings(ctx context.Context) (model.SyncSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, nil
}

func (m *memSettings) SaveSchedule(ctx context.Context, enabled bool, interval int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Enabled, m.st.IntervalMinutes = enabled, interval
	return nil
}

func newTestServer(t *testing.T, s *mockSyncer) (*Server, *memSettings) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	settings := &memSettings{}
	srv := NewServer(s, settings, log.New(io.Discard, "", 0))
	t.Cleanup(srv.Close)
	return srv, settings
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestSyncNow(t *testing.T) {
	var got model.Direction
	srv, _ := newTestServer(t, &mockSyncer{
		RunFunc: func(ctx context.Context, dir model.Direction) (model.SyncResult, error) {
			got = dir
			return model.SyncResult{Direction: dir, Created: 2, TotalProcessed: 2}, nil
		},
	})

	w := do(srv, http.MethodPost, "/sync/now", `{"direction":"pull-only"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.PullOnly, got)

	var res model.SyncResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Created)
}

func TestSyncNowDefaultsToBidirectional(t *testing.T) {
	var got model.Direction
	srv, _ := newTestServer(t, &mockSyncer{
		RunFunc: func(ctx context.Context, dir model.Direction) (model.SyncResult, error) {
			got = dir
			return model.SyncResult{}, nil
		},
	})
	w := do(srv, http.MethodPost, "/sync/now", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.Bidirectional, got)
}

func TestSyncNowRejectsUnknownDirection(t *testing.T) {
	srv, _ := newTestServer(t, &mockSyncer{})
	w := do(srv, http.MethodPost, "/sync/now", `{"direction":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncNowAlreadyRunning(t *testing.T) {
	srv, _ := newTestServer(t, &mockSyncer{
		RunFunc: func(ctx context.Context, dir model.Direction) (model.SyncResult, error) {
			return model.SyncResult{}, syncer.ErrAlreadyRunning
		},
	})
	w := do(srv, http.MethodPost, "/sync/now", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already running")
}

func TestSyncNowWhileShuttingDown(t *testing.T) {
	srv, _ := newTestServer(t, &mockSyncer{
		RunFunc: func(ctx context.Context, dir model.Direction) (model.SyncResult, error) {
			return model.SyncResult{}, syncer.ErrClosed
		},
	})
	w := do(srv, http.MethodPost, "/sync/now", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSyncNowFailure(t *testing.T) {
	srv, _ := newTestServer(t, &mockSyncer{
		RunFunc: func(ctx context.Context, dir model.Direction) (model.SyncResult, error) {
			return model.SyncResult{}, errors.New("store unavailable")
		},
	})
	w := do(srv, http.MethodPost, "/sync/now", `{}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t, &mockSyncer{counts: model.StatusCounts{TotalTasks: 3, Synced: 2, Pending: 1}})
	w := do(srv, http.MethodGet, "/sync/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var counts model.StatusCounts
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counts))
	assert.Equal(t, model.StatusCounts{TotalTasks: 3, Synced: 2, Pending: 1}, counts)
}

func TestScheduled(t *testing.T) {
	srv, _ := newTestServer(t, &mockSyncer{})
	w := do(srv, http.MethodPost, "/sync/scheduled", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out model.ScheduledOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.False(t, out.Ran)
	assert.Equal(t, "scheduled sync disabled", out.Reason)
}

func TestPutSettings(t *testing.T) {
	srv, settings := newTestServer(t, &mockSyncer{})

	w := do(srv, http.MethodPut, "/sync/settings", `{"enabled":true,"intervalMinutes":30}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, settings.st.Enabled)
	assert.Equal(t, 30, settings.st.IntervalMinutes)

	w = do(srv, http.MethodPut, "/sync/settings", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, settings.st.Enabled)
	assert.Equal(t, 30, settings.st.IntervalMinutes, "omitted interval is kept")

	w = do(srv, http.MethodPut, "/sync/settings", `{"intervalMinutes":-5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsStreamResults(t *testing.T) {
	srv, _ := newTestServer(t, &mockSyncer{counts: model.StatusCounts{TotalTasks: 1}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/sync/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var hello Message
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, MessageTypeHello, hello.Type)

	// The hello is written before registration; wait for the hub to list us.
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	srv.Publish(model.SyncResult{Direction: model.Bidirectional, Updated: 4})

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, MessageTypeSyncResult, msg.Type)

	var res model.SyncResult
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	assert.Equal(t, 4, res.Updated)
}
