package feedsim

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
)

// Server replay timing constants.
const (
	defaultRateHz   = 10.0
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// server replays a generated message sequence to every websocket
// client that connects. Each client gets the full game from the start.
type server struct {
	config   *Config
	messages []model.DataMessage
	httpSrv  *http.Server
	sent     atomic.Int64
	clients  atomic.Int64
}

func newServer(config *Config, messages []model.DataMessage) *server {
	s := &server{config: config, messages: messages}
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.httpSrv = &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// serve blocks until the context is cancelled, then drains.
func (s *server) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	logger.Get().Info(ctx, "feed server listening",
		logger.String("addr", s.config.Addr),
		logger.String("path", "/feed"))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.config.AuthToken != "" {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != s.config.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Get().Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	s.clients.Add(1)
	logger.Get().Info(r.Context(), "feed client connected",
		logger.String("remote", r.RemoteAddr))

	go s.replay(conn)
}

// replay streams the scripted game to one client at the configured
// rate, then closes.
func (s *server) replay(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	rate := s.config.RateHz
	if rate <= 0 {
		rate = defaultRateHz
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	for _, msg := range s.messages {
		<-ticker.C
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(wireFrame(msg)); err != nil {
			logger.Get().Debug(context.Background(), "client write failed", logger.Error(err))
			return
		}
		s.sent.Add(1)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "game over"),
		time.Now().Add(writeTimeout))
}
