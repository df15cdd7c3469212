// Package webhook receives Google Calendar push notifications. Google only
// looks at the response status, so every request is answered 200 and internal
// failures are logged instead.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Server exposes the push endpoint and a liveness endpoint.
type Server struct {
	logger   *slog.Logger
	onChange func()
	srv      *http.Server
}

// NewServer builds the receiver. onChange is invoked asynchronously whenever
// Google signals that the watched calendar changed.
func NewServer(addr string, onChange func(), logger *slog.Logger) *Server {
	s := &Server{
		logger:   logger,
		onChange: onChange,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleNotification)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Google identifies notifications with headers: X-Goog-Resource-State is
// "sync" right after the channel is created and "exists" on changes.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-ID")
	state := r.Header.Get("X-Goog-Resource-State")

	s.logger.Info("push notification received",
		slog.String("channel_id", channelID),
		slog.String("state", state),
	)

	if state == "exists" {
		go s.onChange()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("webhook server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webhook server failed", slog.Any("error", err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
