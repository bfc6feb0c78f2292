package connectors

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
)

// Manager owns a set of named connectors and fans every message from
// every connector into process-wide handlers. Connector failures are
// isolated: StartAll keeps going when one source refuses to connect,
// and a connector that later parks in StatusError does not affect the
// others.
type Manager struct {
	log logger.Logger

	mu         sync.RWMutex
	connectors map[string]Connector
	handlers   []Callback
	started    bool
}

// NewManager builds an empty manager.
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Get()
	}
	return &Manager{
		log:        log.Named("connector-manager"),
		connectors: make(map[string]Connector),
	}
}

// AddConnector registers c under its own name. The manager hooks the
// connector's callback chain so messages reach the global handlers.
func (m *Manager) AddConnector(c Connector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := c.Name()
	if _, ok := m.connectors[name]; ok {
		return ErrConnectorExists
	}
	m.connectors[name] = c
	c.RegisterCallback(m.forward)
	m.log.Info(context.Background(), "connector registered", logger.String("connector", name))
	return nil
}

// RemoveConnector disconnects and drops the named connector.
func (m *Manager) RemoveConnector(name string) error {
	m.mu.Lock()
	c, ok := m.connectors[name]
	if ok {
		delete(m.connectors, name)
	}
	m.mu.Unlock()
	if !ok {
		return ErrConnectorNotFound
	}
	c.Disconnect()
	m.log.Info(context.Background(), "connector removed", logger.String("connector", name))
	return nil
}

// Connector returns the named connector.
func (m *Manager) Connector(name string) (Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connectors[name]
	if !ok {
		return nil, ErrConnectorNotFound
	}
	return c, nil
}

// RegisterHandler appends a process-wide message handler. Handlers run
// in registration order for every message from every connector.
func (m *Manager) RegisterHandler(cb Callback) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	m.handlers = append(m.handlers, cb)
	m.mu.Unlock()
}

// forward is installed as a callback on every connector. Each handler
// is isolated: a panicking handler is logged and the remaining handlers
// still see the message.
func (m *Manager) forward(msg model.DataMessage) {
	m.mu.RLock()
	handlers := m.handlers
	m.mu.RUnlock()
	for _, h := range handlers {
		m.runHandler(h, msg)
	}
}

func (m *Manager) runHandler(h Callback, msg model.DataMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(context.Background(), "handler panicked",
				logger.String("message_id", msg.MessageID),
				logger.Any("panic", r),
			)
		}
	}()
	h(msg)
}

// StartAll connects every registered connector. A connector that fails
// to connect is logged and skipped; the first such error is returned
// after all connectors have been tried. Repeated calls only touch
// connectors that are not already connected.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	names := m.sortedNamesLocked()
	m.mu.Unlock()

	var firstErr error
	for _, name := range names {
		c, err := m.Connector(name)
		if err != nil {
			continue
		}
		if c.Status() == StatusConnected {
			continue
		}
		if err := c.Connect(ctx); err != nil {
			m.log.Error(ctx, "connector failed to start",
				logger.String("connector", name),
				logger.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.log.Info(ctx, "connector started", logger.String("connector", name))
	}
	return firstErr
}

// StopAll disconnects every connector. Idempotent.
func (m *Manager) StopAll() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	names := m.sortedNamesLocked()
	m.mu.Unlock()

	for _, name := range names {
		if c, err := m.Connector(name); err == nil {
			c.Disconnect()
		}
	}
	m.log.Info(context.Background(), "all connectors stopped")
}

// Stats returns per-connector stats keyed by name.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.connectors))
	for name, c := range m.connectors {
		out[name] = c.Stats()
	}
	return out
}

// sortedNamesLocked returns connector names in stable order. Caller
// holds mu.
func (m *Manager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.connectors))
	for name := range m.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
