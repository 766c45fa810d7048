// Package broadcaster implements spec §4.8: an in-process fan-out of
// typed JSON messages to connected WebSocket dashboard subscribers,
// adapted from the teacher's internal/handlers/websocket.go (which kept
// per-connection state in maps guarded by a single mutex and serialized
// one message per broadcast call).
package broadcaster

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

// Message types sent to subscribers, per spec §4.8.
const (
	TypeConnectionEstablished = "connection_established"
	TypeJobUpdate             = "job_update"
	TypeDashboardUpdate       = "dashboard_update"
	TypeError                 = "error"
)

// Close codes, per spec §4.8.
const (
	CloseServiceNotInitialized = 1011
	CloseMaxConnections        = 1013
	CloseGraceful              = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is the envelope sent to every subscriber.
type Frame struct {
	Type      string      `json:"type"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Broadcaster fans JSON frames out to a bounded set of WebSocket
// subscribers. Connections are pruned silently on a write failure.
type Broadcaster struct {
	logger        arbor.ILogger
	mu            sync.RWMutex
	subscribers   map[*websocket.Conn]*sync.Mutex
	maxSubs       int
	enabled       bool
}

// New builds a Broadcaster. maxSubs <= 0 means unbounded.
func New(maxSubs int, logger arbor.ILogger) *Broadcaster {
	return &Broadcaster{
		logger:      logger,
		subscribers: make(map[*websocket.Conn]*sync.Mutex),
		maxSubs:     maxSubs,
		enabled:     true,
	}
}

// SetEnabled toggles whether new connections are accepted; disabling
// does not close existing subscribers.
func (b *Broadcaster) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// HandleWebSocket upgrades the request and registers the connection as
// a subscriber, closing it with CloseMaxConnections if the cap is hit
// or CloseServiceNotInitialized if broadcasting is disabled.
func (b *Broadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	enabled := b.enabled
	atCap := b.maxSubs > 0 && len(b.subscribers) >= b.maxSubs
	b.mu.RUnlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	if !enabled {
		closeWith(conn, CloseServiceNotInitialized, "WebSocket disabled")
		return
	}
	if atCap {
		closeWith(conn, CloseMaxConnections, "Max connections reached")
		return
	}

	b.mu.Lock()
	b.subscribers[conn] = &sync.Mutex{}
	count := len(b.subscribers)
	b.mu.Unlock()
	b.logger.Info().Int("subscribers", count).Msg("websocket client connected")

	b.sendTo(conn, Frame{
		Type:      TypeConnectionEstablished,
		Message:   "connected",
		Timestamp: time.Now(),
	})

	defer func() {
		b.remove(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	conn.Close()
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, conn)
}

// SubscriberCount reports the current number of connected subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// broadcast serializes frame once and writes it to every subscriber,
// pruning any connection whose write fails.
func (b *Broadcaster) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal broadcast frame")
		return
	}

	b.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(b.subscribers))
	mutexes := make([]*sync.Mutex, 0, len(b.subscribers))
	for conn, mu := range b.subscribers {
		conns = append(conns, conn)
		mutexes = append(mutexes, mu)
	}
	b.mu.RUnlock()

	var dead []*websocket.Conn
	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()
		if err != nil {
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		for _, conn := range dead {
			delete(b.subscribers, conn)
		}
		b.mu.Unlock()
	}
}

func (b *Broadcaster) sendTo(conn *websocket.Conn, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal frame")
		return
	}
	b.mu.RLock()
	mu := b.subscribers[conn]
	b.mu.RUnlock()
	if mu == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	conn.WriteMessage(websocket.TextMessage, data)
}

// BroadcastJobUpdate publishes a job state change, per spec §4.1's
// ResultIngestLoop call after persisting a merged job.
func (b *Broadcaster) BroadcastJobUpdate(jobID string, status string, payload interface{}) {
	b.broadcast(Frame{
		Type:      TypeJobUpdate,
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"job_id": jobID,
			"status": status,
			"detail": payload,
		},
	})
}

// BroadcastDashboardUpdate publishes a periodic aggregate snapshot.
func (b *Broadcaster) BroadcastDashboardUpdate(snapshot interface{}) {
	b.broadcast(Frame{
		Type:      TypeDashboardUpdate,
		Timestamp: time.Now(),
		Payload:   snapshot,
	})
}

// BroadcastError publishes an out-of-band error frame, per spec §4.9's
// "WebSocket errors are sent as {type:error} frames when possible".
func (b *Broadcaster) BroadcastError(message string) {
	b.broadcast(Frame{
		Type:      TypeError,
		Message:   message,
		Timestamp: time.Now(),
	})
}
