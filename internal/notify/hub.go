// Package notify carries one-line notices from the daemon back to the
// extension over websocket connections.
package notify

import (
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Types of notices sent to subscribers.
const (
	TypeSuccess   = "success"
	TypeError     = "error"
	TypeInfo      = "info"
	TypeClipboard = "clipboard"
)

// Notice is a single notification.
type Notice struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	RoomURL   string    `json:"room_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier is anything that accepts notices.
type Notifier interface {
	Notify(typ, message, roomURL string)
}

// Config represents the notice hub options.
type Config struct {
	WSTimeout time.Duration `koanf:"websocket_timeout"`
	QueueSize int           `koanf:"queue_size"`
}

// Hub fans notices out to all connected subscribers.
type Hub struct {
	cfg Config
	log zerolog.Logger

	subs map[*Subscriber]bool

	subQ       chan *Subscriber
	unsubQ     chan *Subscriber
	countQ     chan chan int
	broadcastQ chan []byte
	closeSig   chan struct{}
	closeOnce  sync.Once
}

// NewHub returns a new Hub. Run must be invoked on a goroutine.
func NewHub(cfg Config, l zerolog.Logger) *Hub {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 32
	}
	if cfg.WSTimeout <= 0 {
		cfg.WSTimeout = time.Second * 10
	}
	return &Hub{
		cfg:        cfg,
		log:        l,
		subs:       make(map[*Subscriber]bool),
		subQ:       make(chan *Subscriber),
		unsubQ:     make(chan *Subscriber),
		countQ:     make(chan chan int),
		broadcastQ: make(chan []byte, cfg.QueueSize),
		closeSig:   make(chan struct{}),
	}
}

// Notify builds a notice and broadcasts it to all subscribers.
func (h *Hub) Notify(typ, message, roomURL string) {
	n := Notice{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		Type:      typ,
		Message:   message,
		RoomURL:   roomURL,
		Timestamp: time.Now(),
	}
	b, err := json.Marshal(n)
	if err != nil {
		h.log.Error().Err(err).Msg("error marshalling notice")
		return
	}

	h.log.Debug().Str("type", typ).Str("notice", message).Msg("notice")

	select {
	case h.broadcastQ <- b:
	case <-h.closeSig:
	default:
		h.log.Warn().Str("notice", message).Msg("notice queue full, dropping")
	}
}

// Subscribe registers a websocket connection with the hub and then starts
// its writer and listener goroutines, so that a removal from the listener
// always finds the subscriber registered.
func (h *Hub) Subscribe(ws *websocket.Conn) *Subscriber {
	s := newSubscriber(ws, h)

	select {
	case h.subQ <- s:
	case <-h.closeSig:
		s.close()
		ws.Close()
		return s
	}

	go s.runWriter()
	go s.runListener()
	return s
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	ch := make(chan int, 1)
	select {
	case h.countQ <- ch:
		return <-ch
	case <-h.closeSig:
		return 0
	}
}

// Close stops the hub and disconnects all subscribers.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.closeSig)
	})
}

// Run is the hub's event loop. It blocks until Close is called.
func (h *Hub) Run() {
loop:
	for {
		select {
		case <-h.closeSig:
			break loop

		case s := <-h.subQ:
			h.subs[s] = true
			h.log.Debug().Int("subscribers", len(h.subs)).Msg("subscriber joined")

		case ch := <-h.countQ:
			ch <- len(h.subs)

		case s := <-h.unsubQ:
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				s.close()
			}

		// Fanout to all subscribers. A subscriber whose queue is full is
		// disconnected rather than blocking the hub.
		case m := <-h.broadcastQ:
			for s := range h.subs {
				select {
				case s.dataQ <- m:
				default:
					delete(h.subs, s)
					s.close()
				}
			}
		}
	}

	for s := range h.subs {
		delete(h.subs, s)
		s.close()
	}
}

// unsubscribe queues a subscriber removal.
func (h *Hub) unsubscribe(s *Subscriber) {
	select {
	case h.unsubQ <- s:
	case <-h.closeSig:
	}
}
