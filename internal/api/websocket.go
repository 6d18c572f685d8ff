package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trading-bridge/internal/events"
	"trading-bridge/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// streamedEvents are the engine events pushed to dashboard clients.
var streamedEvents = []events.Event{
	events.EventPrediction,
	events.EventPositionUpdate,
	events.EventTradeExecuted,
	events.EventTradeCompleted,
	events.EventTradeFailed,
	events.EventPositionReconciled,
	events.EventReconciliationFailed,
	events.EventRiskAlert,
}

type wsFrame struct {
	Event   events.Event `json:"event"`
	Payload any          `json:"payload"`
}

func (s *Server) websocket(c *gin.Context) {
	log := logger.Component("api")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	// Fan every streamed event into one channel so a single writer owns the
	// socket.
	merged := make(chan wsFrame, 256)
	done := make(chan struct{})
	defer close(done)

	// Read pump. Clients send nothing we care about, but reading is what
	// surfaces a dead peer: a close frame, a missed pong deadline, or a
	// torn connection all land here and release the writer.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, e := range streamedEvents {
		stream, unsub := s.Bus.Subscribe(e, 64)
		defer unsub()
		go func(e events.Event, stream <-chan any) {
			for {
				select {
				case <-done:
					return
				case payload, ok := <-stream:
					if !ok {
						return
					}
					select {
					case merged <- wsFrame{Event: e, Payload: payload}:
					case <-done:
						return
					}
				}
			}
		}(e, stream)
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			log.Debug("ws client gone, dropping")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).Debug("ws ping failed, dropping client")
				return
			}
		case frame := <-merged:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				log.WithError(err).Debug("ws write failed, dropping client")
				return
			}
		}
	}
}
