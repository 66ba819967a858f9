package notify

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subscriber is a single websocket connection receiving notices.
type Subscriber struct {
	ws  *websocket.Conn
	hub *Hub

	// Channel for outbound notices.
	dataQ chan []byte

	closeOnce sync.Once
}

func newSubscriber(ws *websocket.Conn, h *Hub) *Subscriber {
	return &Subscriber{
		ws:    ws,
		hub:   h,
		dataQ: make(chan []byte, h.cfg.QueueSize),
	}
}

// runListener reads (and discards) incoming frames until the connection
// drops, so that close frames and pings are processed.
func (s *Subscriber) runListener() {
	s.ws.SetReadLimit(512)
	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.unsubscribe(s)
}

// runWriter writes queued notices to the connection.
func (s *Subscriber) runWriter() {
	defer s.ws.Close()
	for m := range s.dataQ {
		s.ws.SetWriteDeadline(time.Now().Add(s.hub.cfg.WSTimeout))
		if err := s.ws.WriteMessage(websocket.TextMessage, m); err != nil {
			s.hub.unsubscribe(s)
			return
		}
	}
	s.ws.SetWriteDeadline(time.Now().Add(s.hub.cfg.WSTimeout))
	s.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// close stops the writer. Safe to call more than once.
func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.dataQ)
	})
}
