package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// SignalsMessage is pushed to stream subscribers after every published
// ranking.
type SignalsMessage struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Signals []models.Signal `json:"signals"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans the ranking out to websocket subscribers. A subscriber that
// cannot keep up is dropped.
type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	last     []byte
	upgrader websocket.Upgrader
	logger   *logrus.Entry
	now      func() time.Time
}

// NewHub creates a Hub.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger.WithField("component", "hub"),
		now:    time.Now,
	}
}

// Broadcast sends signals to every subscriber and keeps them for late joiners.
func (h *Hub) Broadcast(signals []models.Signal) {
	if signals == nil {
		signals = []models.Signal{}
	}
	payload, err := json.Marshal(SignalsMessage{Type: "signals", At: h.now(), Signals: signals})
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode signals message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = payload
	for s := range h.subs {
		select {
		case s.send <- payload:
		default:
			h.logger.Warn("Dropping slow stream subscriber")
			h.removeLocked(s)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeWS upgrades the request and streams rankings until the peer leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	if h.last != nil {
		s.send <- h.last
	}
	h.mu.Unlock()

	go h.writeLoop(s)
	h.readLoop(s)
}

// readLoop discards inbound messages and notices when the peer goes away.
func (h *Hub) readLoop(s *subscriber) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(s)
		h.mu.Unlock()
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeLocked(s *subscriber) {
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
}
