// Package feed serves the avatar's live state over HTTP and websocket so
// overlays and dashboards can follow along without the desktop window.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/playback"
	"github.com/normanking/talkingavatar/internal/session"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// View is the combined state pushed to feed clients
type View struct {
	Playback playback.Snapshot `json:"playback"`
	Session  session.State     `json:"session"`
}

// Message is one websocket frame
type Message struct {
	Type string `json:"type"`
	Data View   `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server is the state feed
type Server struct {
	addr     string
	view     func() View
	router   chi.Router
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	broadcastMu sync.Mutex
	unsubscribe []bus.Unsubscribe
	httpServer  *http.Server
}

// NewServer creates a feed server. view is called for every push and must
// be safe for concurrent use.
func NewServer(addr string, view func() View, eventBus *bus.EventBus, logger zerolog.Logger) *Server {
	s := &Server{
		addr: addr,
		view: view,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // local overlays only
		},
		logger:  logger.With().Str("component", "feed").Logger(),
		clients: make(map[*client]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
	})
	s.router = r

	if eventBus != nil {
		s.unsubscribe = append(s.unsubscribe,
			eventBus.SubscribeMultiple([]bus.EventType{
				bus.EventTypePlaybackChanged,
				bus.EventTypeSessionChanged,
			}, func(bus.Event) { s.Broadcast() }),
			eventBus.Subscribe(bus.EventTypeShutdown, func(bus.Event) { s.GoingAway() }),
		)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("state feed listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("state feed stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// Close stops listening and disconnects every client.
func (s *Server) Close() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
}

// Broadcast pushes the current view to every client. Slow clients whose
// buffer is full are disconnected.
func (s *Server) Broadcast() {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	data, err := json.Marshal(Message{Type: "state", Data: s.view()})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode view")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Warn().Msg("dropping slow feed client")
			c.conn.Close()
		}
	}
}

// GoingAway sends every client a close frame so overlays can tell an app
// shutdown from a dropped connection.
func (s *Server) GoingAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	deadline := time.Now().Add(writeTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			s.logger.Debug().Err(err).Msg("failed to send close frame")
		}
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "talkingavatar",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	// Queue the current view before registering so no broadcast can overtake it.
	s.broadcastMu.Lock()
	if data, err := json.Marshal(Message{Type: "state", Data: s.view()}); err == nil {
		c.send <- data
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.broadcastMu.Unlock()
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("feed client connected")

	go s.writeLoop(c)

	// Clients only listen; reading drives close detection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.clients, c)
	close(c.send)
	s.mu.Unlock()
	conn.Close()
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("feed client disconnected")
}

func (s *Server) writeLoop(c *client) {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
