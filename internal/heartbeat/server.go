package heartbeat

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

const (
	Path           = "/heartbeat"
	maxMessageSize = 4 << 10
)

// Server answers each heartbeat request exactly once and closes the connection.
type Server struct {
	handler *Handler
	srv     *http.Server
	logger  *zap.Logger
}

func NewServer(addr string, handler *Handler, logger *zap.Logger) *Server {
	s := &Server{handler: handler, logger: logger}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv.SetKeepAlivesEnabled(false)
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post(Path, s.serveHeartbeat)
	return r
}

func (s *Server) serveHeartbeat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	var resp Message
	if err != nil {
		s.logger.Warn("Failed to read heartbeat request", zap.Error(err))
		resp = Unknown()
	} else {
		resp = s.handler.HandleRaw(r.Context(), body)
	}

	b, err := Encode(resp)
	if err != nil {
		s.logger.Error("Failed to encode heartbeat response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json;charset=utf8")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		s.logger.Debug("Failed to write heartbeat response", zap.Error(err))
	}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("Starting heartbeat server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Trace(err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down heartbeat server")
	return errors.Trace(s.srv.Shutdown(ctx))
}
