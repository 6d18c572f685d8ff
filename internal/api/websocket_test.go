package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"trading-bridge/internal/events"
)

func startStreamServer(t *testing.T) (*events.Bus, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus()
	s := &Server{Bus: bus}

	r := gin.New()
	r.GET("/ws", s.websocket)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	// The handler subscribes after the upgrade; wait for it.
	require.Eventually(t, func() bool {
		return bus.SubscriberCount(events.EventPrediction) == 1
	}, 2*time.Second, 10*time.Millisecond, "handler never subscribed to the bus")

	return bus, conn
}

func TestWebsocketStreamsBusEvents(t *testing.T) {
	bus, conn := startStreamServer(t)
	defer conn.Close()

	bus.Publish(events.EventPrediction, map[string]any{"instrument": "MNQ"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, string(events.EventPrediction), frame.Event)
	require.Equal(t, "MNQ", frame.Payload["instrument"])
}

func TestWebsocketReapsSilentlyGoneClient(t *testing.T) {
	bus, conn := startStreamServer(t)

	// Tear the TCP connection down without a close frame, with nothing
	// flowing on the bus. The read pump must notice and release the
	// handler's subscriptions.
	require.NoError(t, conn.UnderlyingConn().Close())

	require.Eventually(t, func() bool {
		return bus.SubscriberCount(events.EventPrediction) == 0
	}, 5*time.Second, 20*time.Millisecond, "handler never released its subscriptions")
}
