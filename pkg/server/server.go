// Package server exposes the memory system over HTTP: state reads, grounded
// queries, and a live event feed over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/gorilla/websocket"

	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/logging"
	"github.com/recallhq/recall/pkg/memory"
	"github.com/recallhq/recall/pkg/types"
)

const (
	queryCacheTTL     = 5 * time.Minute
	shutdownTimeout   = 5 * time.Second
	eventWriteTimeout = 10 * time.Second
)

// Server serves the HTTP API for one memory core.
type Server struct {
	core     *memory.Core
	logger   *logging.Logger
	cache    *ristretto.Cache
	upgrader websocket.Upgrader
	http     *http.Server

	mu          sync.Mutex
	subscribers map[chan *types.MemoryEvent]struct{}
}

// New wires the routes and the query cache. Events sent to Publish are
// fanned out to every connected WebSocket client.
func New(cfg config.ServerConfig, core *memory.Core, logger *logging.Logger) (*Server, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("server: create query cache: %w", err)
	}

	s := &Server{
		core:   core,
		logger: logger,
		cache:  cache,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subscribers: make(map[chan *types.MemoryEvent]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/memory", s.handleMemory)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	s.http = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	return s, nil
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("http server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes all event subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.mu.Lock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.mu.Unlock()

	return s.http.Shutdown(ctx)
}

// Publish forwards a memory event to all connected WebSocket clients.
// Slow clients drop events rather than backpressuring the core.
func (s *Server) Publish(event *types.MemoryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMemory returns the full three-tier snapshot.
func (s *Server) handleMemory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.GetState())
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	Answer string `json:"answer"`
	Cached bool   `json:"cached"`
}

// handleQuery answers a question grounded in memory. Answers are cached per
// question until the next memory mutation so repeated dashboard polls don't
// burn summarizer calls.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	cacheKey := fmt.Sprintf("%d:%s", s.core.Revision(), req.Question)
	if cached, ok := s.cache.Get(cacheKey); ok {
		if answer, ok := cached.(string); ok {
			writeJSON(w, http.StatusOK, queryResponse{Answer: answer, Cached: true})
			return
		}
	}

	answer, err := s.core.Query(r.Context(), req.Question)
	if err != nil {
		s.logger.Errorf("query failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "query failed"})
		return
	}

	s.cache.SetWithTTL(cacheKey, answer, int64(len(answer)), queryCacheTTL)
	writeJSON(w, http.StatusOK, queryResponse{Answer: answer, Cached: false})
}

// handleEvents upgrades to WebSocket and streams memory events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := make(chan *types.MemoryEvent, 32)
	s.mu.Lock()
	s.subscribers[events] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if _, ok := s.subscribers[events]; ok {
			delete(s.subscribers, events)
			close(events)
		}
		s.mu.Unlock()
	}()

	// Reader goroutine: its only job is to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
