package socket

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/auth"
	"github.com/cloudfly/chat-relay/internal/bus"
	"github.com/cloudfly/chat-relay/internal/model"
	"github.com/cloudfly/chat-relay/internal/service"
	"github.com/cloudfly/chat-relay/pkg/logger"
	"github.com/cloudfly/chat-relay/pkg/metrics"
)

// Server upgrades authenticated requests and runs their connections.
type Server struct {
	bus      bus.Bus
	relay    *service.Relay
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewServer creates a socket server. allowedOrigins restricts browser
// origins; "*" allows any.
func NewServer(b bus.Bus, relay *service.Relay, allowedOrigins []string, log *logger.Logger) *Server {
	return &Server{
		bus:   b,
		relay: relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: log,
		conns:  make(map[*Conn]struct{}),
	}
}

// Serve upgrades r and runs the connection until it closes. The caller has
// already authenticated the request.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, identity auth.Identity, token string) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	c := newConn(uuid.NewString(), identity, token, ws, s.bus, s.logger)
	if !s.register(c) {
		c.Close(websocket.CloseGoingAway, "server shutting down")
		c.writePump()
		return
	}
	defer s.unregister(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.writePump()

	c.logger.Info("connection established", zap.String("remote_addr", r.RemoteAddr))

	if err := s.relay.Online(ctx, c); err != nil {
		c.logger.Error("failed to register presence", zap.Error(err))
		c.Close(websocket.CloseInternalServerErr, "presence unavailable")
	} else {
		c.readPump(ctx, func(ctx context.Context, frame model.Frame) {
			s.relay.Dispatch(ctx, c, frame)
		})
	}

	c.Close(websocket.CloseNormalClosure, "")
	s.relay.Offline(ctx, c)
	rooms := c.Rooms()
	c.releaseSubscriptions()

	c.logger.Info("connection closed",
		zap.Duration("duration", time.Since(c.connectAt)),
		zap.Strings("rooms", rooms),
	)
}

// Count returns the number of open connections.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every connection with a going-away frame and waits for
// their handlers to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) register(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	metrics.IncrementSocketConnections()
	return true
}

func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	metrics.DecrementSocketConnections()
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
