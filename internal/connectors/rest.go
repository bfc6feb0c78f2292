package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// restMaxBodyBytes caps a polled response body.
const restMaxBodyBytes = 1 << 20

// RESTConnector polls a JSON endpoint on a fixed interval and emits one
// DataMessage per changed response. An ETag is remembered between polls
// so unchanged responses cost a 304 and produce nothing. Consecutive
// poll failures beyond the configured reconnect attempts park the
// connector in StatusError.
type RESTConnector struct {
	base

	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	// owned by the poll loop
	etag         string
	consecFails  int
	lastChecksum string
}

// NewRESTConnector builds a polling connector for the endpoint in cfg.
func NewRESTConnector(name string, cfg Config, log logger.Logger, met *metrics.Manager) *RESTConnector {
	r := &RESTConnector{
		base: newBase(name, cfg, log, met),
	}
	r.client = &http.Client{Timeout: r.cfg.Timeout}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "rest-" + name,
		Timeout: r.cfg.ReconnectDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			r.log.Warn(context.Background(), "poll breaker state change",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return r
}

// Connect verifies the endpoint once, then starts the poll loop.
func (r *RESTConnector) Connect(ctx context.Context) error {
	if r.Status() == StatusConnected {
		return ErrAlreadyConnected
	}
	r.setStatus(StatusConnecting)
	if _, err := r.pollOnce(ctx); err != nil && !IsTransient(err) {
		r.setStatus(StatusError)
		return err
	}
	r.resetLoop()
	r.setStatus(StatusConnected)
	go r.run(ctx)
	r.log.Info(ctx, "polling started",
		logger.String("endpoint", r.cfg.Endpoint),
		logger.Duration("interval", r.cfg.PollInterval),
	)
	return nil
}

// Disconnect stops the poll loop.
func (r *RESTConnector) Disconnect() {
	r.join()
	r.setStatus(StatusDisconnected)
}

func (r *RESTConnector) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.setStatus(StatusDisconnected)
			return
		case <-r.stop:
			return
		case <-ticker.C:
			changed, err := r.pollOnce(ctx)
			if err != nil {
				r.consecFails++
				r.recordError("poll", err)
				if r.consecFails > r.cfg.ReconnectAttempts {
					r.setStatus(StatusError)
					return
				}
				r.setStatus(StatusReconnecting)
				continue
			}
			r.consecFails = 0
			if r.Status() != StatusConnected {
				r.setStatus(StatusConnected)
			}
			_ = changed
		}
	}
}

// pollOnce fetches the endpoint and dispatches a message when the body
// changed since the previous poll. It reports whether a message was
// emitted.
func (r *RESTConnector) pollOnce(ctx context.Context) (bool, error) {
	body, notModified, err := r.fetch(ctx)
	if err != nil {
		return false, err
	}
	if notModified {
		return false, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return false, fmt.Errorf("decode poll response: %w", err)
	}

	// Endpoints without ETag support repeat identical bodies; skip them.
	sum := string(body)
	if sum == r.lastChecksum {
		return false, nil
	}
	r.lastChecksum = sum

	msg := model.DataMessage{
		MessageID: uuid.NewString(),
		Timestamp: time.Now(),
		Source:    r.name,
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
	}
	r.dispatch(msg)
	return true, nil
}

func (r *RESTConnector) fetch(ctx context.Context) (body []byte, notModified bool, err error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.Endpoint, nil)
		if err != nil {
			return nil, err
		}
		if r.cfg.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+r.cfg.AuthToken)
		}
		if r.etag != "" {
			req.Header.Set("If-None-Match", r.etag)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, Transient("fetch", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			return fetchResult{notModified: true}, nil
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %d", resp.StatusCode)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, Transient("fetch", err)
			}
			return nil, err
		}

		b, err := io.ReadAll(io.LimitReader(resp.Body, restMaxBodyBytes))
		if err != nil {
			return nil, Transient("fetch", err)
		}
		return fetchResult{body: b, etag: resp.Header.Get("ETag")}, nil
	})
	if err != nil {
		return nil, false, err
	}
	fr := res.(fetchResult)
	if fr.etag != "" {
		r.etag = fr.etag
	}
	return fr.body, fr.notModified, nil
}

type fetchResult struct {
	body        []byte
	etag        string
	notModified bool
}
