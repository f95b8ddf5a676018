package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/daemon"
)

type fakeSource struct {
	mu        sync.Mutex
	status    daemon.Status
	rules     config.RuleSet
	window    *config.WindowInfo
	listeners []chan daemon.SwitchEvent
}

func (f *fakeSource) Status() daemon.Status { return f.status }
func (f *fakeSource) Rules() config.RuleSet { return f.rules }

func (f *fakeSource) CurrentWindow() (config.WindowInfo, bool) {
	if f.window == nil {
		return config.WindowInfo{}, false
	}
	return *f.window, true
}

func (f *fakeSource) Subscribe() chan daemon.SwitchEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan daemon.SwitchEvent, 1)
	f.listeners = append(f.listeners, ch)
	return ch
}

func (f *fakeSource) Unsubscribe(ch chan daemon.SwitchEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.listeners {
		if l == ch {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (f *fakeSource) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeSource) publish(ev daemon.SwitchEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.listeners {
		l <- ev
	}
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestReadOnlyRoutes(t *testing.T) {
	active := config.ProfileID(3)
	src := &fakeSource{
		status: daemon.Status{
			DeviceState:   "faulted",
			DeviceError:   "device switch: duckyPad connection lost",
			ActiveProfile: &active,
			RuleCount:     1,
			ConfigPath:    "/tmp/config.json",
		},
		rules:  config.RuleSet{{AppName: "code", Enabled: true, SwitchTo: 3}},
	}
	srv := httptest.NewServer(NewServer(src, "1.2.3").Handler())
	defer srv.Close()

	t.Run("health", func(t *testing.T) {
		resp := get(t, srv, "/api/health")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, map[string]string{"status": "healthy", "version": "1.2.3"}, body)
	})

	t.Run("status", func(t *testing.T) {
		resp := get(t, srv, "/api/status")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "faulted", body["device_state"])
		assert.Equal(t, "device switch: duckyPad connection lost", body["device_error"])
		assert.EqualValues(t, 3, body["active_profile"])
		assert.Equal(t, "/tmp/config.json", body["config_path"])
	})

	t.Run("rules", func(t *testing.T) {
		resp := get(t, srv, "/api/rules")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body, 1)
		assert.Equal(t, "code", body[0]["app_name"])
		assert.EqualValues(t, 3, body[0]["switch_to"])
	})

	t.Run("no window yet", func(t *testing.T) {
		resp := get(t, srv, "/api/window/current")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("rules are not writable", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/rules", "application/json", strings.NewReader(`[]`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.GreaterOrEqual(t, resp.StatusCode, http.StatusBadRequest)
	})
}

func TestCurrentWindow(t *testing.T) {
	src := &fakeSource{window: &config.WindowInfo{AppName: "firefox", Title: "Inbox"}}
	srv := httptest.NewServer(NewServer(src, "dev").Handler())
	defer srv.Close()

	resp := get(t, srv, "/api/window/current")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var w config.WindowInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&w))
	assert.Equal(t, "firefox", w.AppName)
	assert.Equal(t, "Inbox", w.Title)
}

func TestEventsStream(t *testing.T) {
	src := &fakeSource{}
	srv := httptest.NewServer(NewServer(src, "dev").Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return src.subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	src.publish(daemon.SwitchEvent{ID: "evt-1", Profile: 4, Trigger: daemon.TriggerPoll})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev daemon.SwitchEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, config.ProfileID(4), ev.Profile)

	conn.Close()
	require.Eventually(t, func() bool { return src.subscribers() == 0 }, 5*time.Second, 10*time.Millisecond,
		"subscription dropped when the client leaves")
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(&fakeSource{}, "dev").Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
