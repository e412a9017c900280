// Package stream serves realtime backtest progress over websockets, with a
// status endpoint for process health.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/quantlab/ashare-backtest/internal/domain"
)

const (
	writeTimeout = 5 * time.Second
	// subscriberBuffer bounds per-client queues; slow clients drop updates
	// rather than stall the engine loop.
	subscriberBuffer = 64
)

// Server broadcasts DayUpdate payloads to websocket subscribers. Its Callback
// method satisfies the engine's realtime hook.
type Server struct {
	log    zerolog.Logger
	server *http.Server

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	lastUpdate  []byte
}

// NewServer creates a stream server listening on addr.
func NewServer(addr string, log zerolog.Logger) *Server {
	s := &Server{
		log:         log.With().Str("component", "stream").Logger(),
		subscribers: make(map[chan []byte]struct{}),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RealIP)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/ws", s.handleWS)
	router.Get("/status", s.handleStatus)
	router.Get("/last", s.handleLast)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks; run it in a goroutine.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Stream server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("stream server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server and closes all subscriber queues.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan []byte]struct{})
	s.mu.Unlock()

	return s.server.Shutdown(ctx)
}

// Callback is the engine's realtime hook. It serializes the update once and
// fans it out without blocking the engine loop.
func (s *Server) Callback(update domain.DayUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode day update")
		return
	}

	s.mu.Lock()
	s.lastUpdate = data
	for ch := range s.subscribers {
		select {
		case ch <- data:
		default:
			// Slow subscriber: drop this update for it.
		}
	}
	s.mu.Unlock()
}

// SubscriberCount returns the number of connected websocket clients.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Server) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	delete(s.subscribers, ch)
	s.mu.Unlock()
}

// handleWS upgrades the connection and forwards updates until the client
// disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is handled by the router middleware
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := s.subscribe()
	defer s.unsubscribe(ch)
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("Subscriber connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("Subscriber write failed, dropping")
				return
			}
		}
	}
}

// handleLast returns the most recent update for late joiners.
func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data := s.lastUpdate
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if data == nil {
		w.Write([]byte(`{}`))
		return
	}
	w.Write(data)
}
