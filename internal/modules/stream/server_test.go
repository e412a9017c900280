package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(":0", zerolog.Nop())
	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func sampleUpdate(date string) domain.DayUpdate {
	return domain.DayUpdate{
		Date: date,
		Snapshot: domain.PortfolioSnapshot{
			Date:       date,
			TotalValue: 1_000_000,
			Cash:       1_000_000,
		},
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status["status"])
	assert.GreaterOrEqual(t, status["goroutines"].(float64), 1.0)
}

func TestLastEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/last")
	require.NoError(t, err)
	var empty map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	assert.Empty(t, empty)

	s.Callback(sampleUpdate("2023-01-03"))

	resp, err = http.Get(ts.URL + "/last")
	require.NoError(t, err)
	defer resp.Body.Close()
	var update domain.DayUpdate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&update))
	assert.Equal(t, "2023-01-03", update.Date)
}

func TestWebsocketBroadcast(t *testing.T) {
	s, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The subscriber registers inside the handler goroutine; wait for it.
	require.Eventually(t, func() bool { return s.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	s.Callback(sampleUpdate("2023-01-04"))

	msgType, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, msgType)

	var update domain.DayUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	assert.Equal(t, "2023-01-04", update.Date)
	assert.Equal(t, 1_000_000.0, update.Snapshot.TotalValue)
}

func TestCallbackWithoutSubscribersDoesNotBlock(t *testing.T) {
	s, _ := newTestServer(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Callback(sampleUpdate("2023-01-03"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback blocked without subscribers")
	}
}
