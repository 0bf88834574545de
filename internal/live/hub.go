// Package live fans answer updates out to websocket viewers of a thread.
package live

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omniplex-ai/omniplex/internal/logging"
	"github.com/omniplex-ai/omniplex/internal/metrics"
)

// Event types pushed to viewers.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
)

// Event is one update of a thread's in-flight answer. Answer always holds
// the full text so far, so a viewer that misses a delta loses nothing.
type Event struct {
	Type      string `json:"type"`
	ChatIndex int    `json:"chatIndex"`
	Answer    string `json:"answer"`
	Error     string `json:"error,omitempty"`
}

// Terminal reports whether no further events follow for this answer.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Subscription receives events for one thread until closed.
type Subscription struct {
	hub      *Hub
	threadID string
	ch       chan Event
	once     sync.Once
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close unsubscribes and closes the channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub tracks subscribers per thread.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[*Subscription]struct{}
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewHub creates a hub. checkOrigin validates websocket upgrade origins;
// nil accepts same-origin requests only.
func NewHub(logger *logging.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Subscribe registers a subscriber for threadID.
func (h *Hub) Subscribe(threadID string) *Subscription {
	sub := &Subscription{hub: h, threadID: threadID, ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[threadID] == nil {
		h.subs[threadID] = make(map[*Subscription]struct{})
	}
	h.subs[threadID][sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.threadID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.threadID)
		}
	}
	close(sub.ch)
}

// Publish delivers ev to every subscriber of threadID without blocking. A
// subscriber with a full buffer loses its oldest pending event.
func (h *Hub) Publish(threadID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[threadID] {
		for {
			select {
			case sub.ch <- ev:
			default:
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribers returns the number of subscribers for threadID.
func (h *Hub) Subscribers(threadID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[threadID])
}

// ServeWS upgrades the request and streams threadID's events until the
// viewer disconnects. initial, when set, is called after subscribing and
// its event is sent first, so a viewer joining mid-answer sees the text so
// far and misses no later event.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, threadID string, initial func() *Event) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}
	metrics.LiveConnectionOpened()
	defer metrics.LiveConnectionClosed()
	defer conn.Close()

	sub := h.Subscribe(threadID)
	defer sub.Close()

	done := make(chan struct{})
	go h.readPump(conn, done)

	if initial != nil {
		if ev := initial(); ev != nil {
			if err := h.write(conn, *ev); err != nil {
				return
			}
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := h.write(conn, ev); err != nil {
				h.logger.WithContext(r.Context()).WithError(err).Debug("live write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, ev Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ev)
}

// readPump drains client frames so pongs and close frames are processed.
func (h *Hub) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
