package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/wicara/pkg/protocol"
)

// observedFrame is the envelope published to observers: every frame that
// crosses a message channel, tagged with its origin.
type observedFrame struct {
	SessionID string           `json:"session_id,omitempty"`
	PCID      string           `json:"pc_id"`
	Frame     protocol.Message `json:"frame"`
}

// broadcaster fans frames out to websocket observers. Slow observers are
// dropped rather than allowed to stall the data path.
type broadcaster struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*observerConn]struct{}
}

// sendCh is never closed; done ends the write loop instead, so a publisher
// racing a disconnect can never hit a closed channel.
type observerConn struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{
		logger: logger,
		conns:  make(map[*observerConn]struct{}),
	}
}

func (b *broadcaster) add(conn *websocket.Conn) {
	oc := &observerConn{conn: conn, sendCh: make(chan []byte, 64), done: make(chan struct{})}
	b.mu.Lock()
	b.conns[oc] = struct{}{}
	b.mu.Unlock()

	go b.writeLoop(oc)
	go b.readLoop(oc)
}

func (b *broadcaster) remove(oc *observerConn) {
	b.mu.Lock()
	delete(b.conns, oc)
	b.mu.Unlock()
	oc.once.Do(func() { close(oc.done) })
	_ = oc.conn.Close()
}

// publish mirrors one frame to every observer without blocking the caller.
func (b *broadcaster) publish(sessionID, pcID string, m protocol.Message) {
	data, err := json.Marshal(observedFrame{SessionID: sessionID, PCID: pcID, Frame: m})
	if err != nil {
		return
	}

	// Buffered non-blocking sends, so holding the lock here is cheap and a
	// concurrent remove cannot race the send.
	b.mu.Lock()
	var slow []*observerConn
	for oc := range b.conns {
		select {
		case oc.sendCh <- data:
		default:
			slow = append(slow, oc)
		}
	}
	b.mu.Unlock()

	for _, oc := range slow {
		b.logger.Warn("observer too slow, dropping")
		b.remove(oc)
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	conns := make([]*observerConn, 0, len(b.conns))
	for oc := range b.conns {
		conns = append(conns, oc)
	}
	b.mu.Unlock()
	for _, oc := range conns {
		b.remove(oc)
	}
}

func (b *broadcaster) writeLoop(oc *observerConn) {
	for {
		select {
		case data := <-oc.sendCh:
			if err := oc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.remove(oc)
				return
			}
		case <-oc.done:
			return
		}
	}
}

// readLoop drains control frames and detects the observer going away.
func (b *broadcaster) readLoop(oc *observerConn) {
	for {
		if _, _, err := oc.conn.ReadMessage(); err != nil {
			b.remove(oc)
			return
		}
	}
}

func (b *broadcaster) upgrader(allowAny bool, allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAny {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, a := range allowed {
				if origin == a {
					return true
				}
			}
			return false
		},
	}
}
