package connectors

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// base carries the queue, callback fan-out, and counters shared by every
// connector implementation. Concrete connectors embed it and drive their
// own receive loops.
type base struct {
	name string
	cfg  Config
	log  logger.Logger
	met  *metrics.Manager

	mu        sync.RWMutex
	status    Status
	callbacks []Callback

	queue chan model.DataMessage

	seq        atomic.Int64
	received   atomic.Int64
	dropped    atomic.Int64
	errCount   atomic.Int64
	reconnects atomic.Int64
	lastMsgAt  atomic.Int64 // unix nanos, 0 when none

	stop chan struct{}
	done chan struct{}
}

func newBase(name string, cfg Config, log logger.Logger, met *metrics.Manager) base {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Get()
	}
	return base{
		name:  name,
		cfg:   cfg,
		log:   log.Named(name),
		met:   met,
		queue: make(chan model.DataMessage, cfg.BufferSize),
	}
}

func (b *base) Name() string { return b.name }

func (b *base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *base) setStatus(s Status) {
	b.mu.Lock()
	prev := b.status
	b.status = s
	b.mu.Unlock()
	if prev == s {
		return
	}
	if b.met != nil {
		b.met.UpdateConnectorStatus(b.name, int(s))
	}
	b.log.Debug(context.Background(), "status change",
		logger.String("from", prev.String()),
		logger.String("to", s.String()),
	)
}

func (b *base) RegisterCallback(cb Callback) {
	if cb == nil {
		return
	}
	b.mu.Lock()
	b.callbacks = append(b.callbacks, cb)
	b.mu.Unlock()
}

// dispatch stamps the message, offers it to the bounded queue (shedding
// when full), then fans it out to callbacks in registration order. A
// panicking callback is recovered and counted, and the remaining
// callbacks still run.
func (b *base) dispatch(msg model.DataMessage) {
	msg.SequenceNumber = b.seq.Add(1)
	if msg.Source == "" {
		msg.Source = b.name
	}
	b.received.Add(1)
	b.lastMsgAt.Store(time.Now().UnixNano())
	if b.met != nil {
		b.met.RecordMessageReceived(b.name)
	}

	select {
	case b.queue <- msg:
	default:
		b.dropped.Add(1)
		if b.met != nil {
			b.met.RecordMessageDropped(b.name)
		}
	}

	b.mu.RLock()
	cbs := b.callbacks
	b.mu.RUnlock()
	for _, cb := range cbs {
		b.runCallback(cb, msg)
	}
}

func (b *base) runCallback(cb Callback, msg model.DataMessage) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if b.met != nil {
				b.met.RecordCallbackError()
			}
			b.log.Error(context.Background(), "callback panic",
				logger.String("message_id", msg.MessageID),
				logger.String("panic", toString(r)),
			)
		}
		if b.met != nil {
			b.met.RecordCallbackLatency(float64(time.Since(start).Microseconds()) / 1000.0)
		}
	}()
	cb(msg)
}

func (b *base) GetMessage(timeout time.Duration) (model.DataMessage, bool) {
	if timeout <= 0 {
		select {
		case msg := <-b.queue:
			return msg, true
		default:
			return model.DataMessage{}, false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case msg := <-b.queue:
		return msg, true
	case <-t.C:
		return model.DataMessage{}, false
	}
}

func (b *base) Stats() Stats {
	var last time.Time
	if n := b.lastMsgAt.Load(); n != 0 {
		last = time.Unix(0, n)
	}
	return Stats{
		Status:            b.Status(),
		MessagesReceived:  b.received.Load(),
		MessagesDropped:   b.dropped.Load(),
		Errors:            b.errCount.Load(),
		ReconnectAttempts: b.reconnects.Load(),
		LastMessageAt:     last,
	}
}

// recordError bumps the error counters and emits one log line.
func (b *base) recordError(op string, err error) {
	b.errCount.Add(1)
	if b.met != nil {
		b.met.RecordConnectorError(b.name, op)
	}
	b.log.Warn(context.Background(), "connector error",
		logger.String("op", op),
		logger.Error(err),
	)
}

// resetLoop arms fresh stop/done channels for a new receive loop.
// Callers hold no locks; Connect is expected to be serialized by the
// owner (Manager or caller code).
func (b *base) resetLoop() {
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
}

// signalStop closes the stop channel. Idempotent through the closed
// check.
func (b *base) signalStop() {
	if b.stop == nil {
		return
	}
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
}

// join closes stop and waits for the receive loop with a bounded
// timeout.
func (b *base) join() {
	if b.stop == nil {
		return
	}
	b.signalStop()
	select {
	case <-b.done:
	case <-time.After(joinTimeout):
		b.log.Warn(context.Background(), "receive loop did not stop in time")
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if e, ok := v.(error); ok {
		return e.Error()
	}
	return "non-string panic value"
}
