package web

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jathq/jat-sentinel/internal/automation"
)

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestActivityWebsocketStreams(t *testing.T) {
	s := newTestServer(t, Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/activity"), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	s.engine.Activity().Append(automation.ActivityEvent{ID: "live-1", RuleName: "streamed"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev automation.ActivityEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "live-1", ev.ID)
	assert.Equal(t, "streamed", ev.RuleName)
}

func TestActivityWebsocketAuth(t *testing.T) {
	s := newTestServer(t, Config{Token: "sekrit"})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// No token: the upgrade is refused.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/activity"), nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 401, resp.StatusCode)
		resp.Body.Close()
	}

	// Query token works where headers cannot be set.
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/activity?token=sekrit"), nil)
	require.NoError(t, err)
	conn.Close()
	resp.Body.Close()
}
