package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"bus-tracker/internal/notify"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the envelope pushed to WebSocket clients.
type wsMessage struct {
	Event string       `json:"event"`
	Data  notify.Event `json:"data"`
}

// streamUpdates upgrades the connection and streams every location update
// published after the client connected.
func (s *Server) streamUpdates(w http.ResponseWriter, r *http.Request) {
	sub, err := s.notifier.Subscribe("ws")
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		log.Printf("ws upgrade error: %v", err)
		return
	}
	log.Printf("ws client connected remote=%s sub=%s", r.RemoteAddr, sub.ID())

	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, sub, done)

	sub.Close()
	_ = conn.Close()
	log.Printf("ws client disconnected remote=%s sub=%s dropped=%d", r.RemoteAddr, sub.ID(), sub.Dropped())
}

// readPump discards client messages and closes done when the peer goes away.
func readPump(c *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	c.SetReadLimit(512)
	_ = c.SetReadDeadline(time.Now().Add(wsPongWait))
	c.SetPongHandler(func(string) error { return c.SetReadDeadline(time.Now().Add(wsPongWait)) })
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(c *websocket.Conn, sub *notify.Subscription, done <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C():
			_ = c.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.WriteJSON(wsMessage{Event: notify.Topic, Data: ev}); err != nil {
				return
			}
		case <-ping.C:
			_ = c.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
