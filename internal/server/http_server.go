// Package server exposes the local status UI: plain JSON endpoints plus a
// websocket stream of bot events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/micebot/micebot/internal/bot"
	"github.com/micebot/micebot/internal/event"
	"github.com/micebot/micebot/internal/history"
)

type HttpServer struct {
	logger  *slog.Logger
	orch    *bot.Orchestrator
	store   *history.Store
	hub     *Hub
	httpSrv *http.Server
}

func New(logger *slog.Logger, orch *bot.Orchestrator, store *history.Store) *HttpServer {
	return &HttpServer{
		logger: logger,
		orch:   orch,
		store:  store,
		hub:    NewHub(),
	}
}

// EventHandler returns the listener hook that streams events to websocket
// clients.
func (s *HttpServer) EventHandler() event.Handler {
	type wireEvent struct {
		Message    string    `json:"message"`
		OccurredAt time.Time `json:"occurredAt"`
	}
	return func(_ context.Context, e event.Event) error {
		payload, err := json.Marshal(wireEvent{Message: e.Message(), OccurredAt: e.OccurredAt()})
		if err != nil {
			return err
		}
		s.hub.Broadcast(payload)
		return nil
	}
}

// Listen serves until ctx is cancelled.
func (s *HttpServer) Listen(ctx context.Context, port int) error {
	go s.hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.getStatus)
	mux.HandleFunc("/api/history", s.getHistory)
	mux.HandleFunc("/ws", s.hub.HandleWebSocket)

	s.httpSrv = &http.Server{
		Addr:    net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status server listening", slog.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *HttpServer) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.orch.Snapshot())
}

func (s *HttpServer) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, []history.Entry{})
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
