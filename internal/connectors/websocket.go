package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

const (
	wsReadDeadline = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocketConnector streams telemetry frames from a WebSocket feed.
// Each frame is a JSON object; a "type" field selects the message type
// and the remaining fields become the payload. Read failures trigger a
// bounded reconnect cycle with a fixed delay between attempts; when
// attempts are exhausted the connector parks in StatusError.
type WebSocketConnector struct {
	base

	dialer       websocket.Dialer
	breaker      *gobreaker.CircuitBreaker
	pingInterval time.Duration

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewWebSocketConnector builds a connector for the endpoint in cfg.
func NewWebSocketConnector(name string, cfg Config, log logger.Logger, met *metrics.Manager) *WebSocketConnector {
	w := &WebSocketConnector{
		base:         newBase(name, cfg, log, met),
		pingInterval: wsPingInterval,
	}
	w.dialer = websocket.Dialer{
		HandshakeTimeout: w.cfg.Timeout,
	}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ws-" + name,
		Timeout: w.cfg.ReconnectDelay * time.Duration(w.cfg.ReconnectAttempts),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			w.log.Warn(context.Background(), "dial breaker state change",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return w
}

// Connect dials the feed and starts the read loop.
func (w *WebSocketConnector) Connect(ctx context.Context) error {
	if w.Status() == StatusConnected {
		return ErrAlreadyConnected
	}
	w.setStatus(StatusConnecting)
	if err := w.dial(ctx); err != nil {
		w.setStatus(StatusError)
		return err
	}
	w.resetLoop()
	w.setStatus(StatusConnected)
	go w.run(ctx)
	return nil
}

// dial opens the socket through the circuit breaker.
func (w *WebSocketConnector) dial(ctx context.Context) error {
	_, err := w.breaker.Execute(func() (interface{}, error) {
		header := http.Header{}
		if w.cfg.AuthToken != "" {
			header.Set("Authorization", "Bearer "+w.cfg.AuthToken)
		}
		conn, _, err := w.dialer.DialContext(ctx, w.cfg.Endpoint, header)
		if err != nil {
			return nil, Transient("dial", err)
		}
		w.connMu.Lock()
		w.conn = conn
		w.connMu.Unlock()
		return nil, nil
	})
	if err != nil {
		w.recordError("dial", err)
		return err
	}
	w.log.Info(ctx, "websocket connected", logger.String("endpoint", w.cfg.Endpoint))
	return nil
}

// Disconnect stops the read loop and closes the socket. The socket is
// closed before the join so a read parked on the deadline unblocks
// immediately instead of timing the join out.
func (w *WebSocketConnector) Disconnect() {
	w.signalStop()
	w.closeConn()
	w.join()
	w.setStatus(StatusDisconnected)
}

func (w *WebSocketConnector) closeConn() {
	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()
}

func (w *WebSocketConnector) run(ctx context.Context) {
	defer close(w.done)
	pingerStop := make(chan struct{})
	defer close(pingerStop)
	go w.pingLoop(ctx, pingerStop)

	for {
		select {
		case <-ctx.Done():
			w.closeConn()
			w.setStatus(StatusDisconnected)
			return
		case <-w.stop:
			return
		default:
		}

		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()
		if conn == nil {
			if !w.reconnect(ctx) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if w.stopped() || ctx.Err() != nil {
				return
			}
			w.recordError("read", Transient("read", err))
			w.closeConn()
			if !w.reconnect(ctx) {
				return
			}
			continue
		}
		w.handleFrame(frame)
	}
}

func (w *WebSocketConnector) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// reconnect runs the bounded retry cycle. It reports whether a new
// connection was established; false means attempts were exhausted or
// shutdown intervened and the loop must exit.
func (w *WebSocketConnector) reconnect(ctx context.Context) bool {
	w.setStatus(StatusReconnecting)
	for attempt := 1; attempt <= w.cfg.ReconnectAttempts; attempt++ {
		w.reconnects.Add(1)
		if w.met != nil {
			w.met.RecordReconnectAttempt(w.name)
		}
		w.log.Info(ctx, "reconnecting",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", w.cfg.ReconnectAttempts),
		)
		select {
		case <-ctx.Done():
			w.setStatus(StatusDisconnected)
			return false
		case <-w.stop:
			return false
		case <-time.After(w.cfg.ReconnectDelay):
		}
		if err := w.dial(ctx); err == nil {
			w.setStatus(StatusConnected)
			return true
		}
	}
	w.recordError("reconnect", ErrReconnectExhausted)
	w.setStatus(StatusError)
	return false
}

// handleFrame decodes one JSON frame into a DataMessage and dispatches
// it. Malformed frames are counted and skipped.
func (w *WebSocketConnector) handleFrame(frame []byte) {
	var raw map[string]interface{}
	if err := json.Unmarshal(frame, &raw); err != nil {
		w.recordError("decode", err)
		return
	}

	msg := model.DataMessage{
		Timestamp: time.Now(),
		Source:    w.name,
		Type:      model.MessageScoreUpdate,
		Payload:   raw,
	}
	if t, ok := raw["type"].(string); ok {
		msg.Type = model.MessageType(t)
		delete(raw, "type")
	}
	if id, ok := raw["message_id"].(string); ok && id != "" {
		msg.MessageID = id
		delete(raw, "message_id")
	} else {
		msg.MessageID = uuid.NewString()
	}
	if ts, ok := raw["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			msg.Timestamp = parsed
		}
		delete(raw, "timestamp")
	}
	w.dispatch(msg)
}

// pingLoop keeps the connection alive from its own goroutine so pings
// go out on schedule even while the read loop is parked in ReadMessage.
func (w *WebSocketConnector) pingLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.sendPing()
		}
	}
}

func (w *WebSocketConnector) sendPing() {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil {
		return
	}
	deadline := time.Now().Add(w.cfg.Timeout)
	if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		w.recordError("ping", Transient("ping", err))
	}
}
