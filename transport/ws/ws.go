// Package ws serves workers over WebSocket. Every connection gets its own
// worker and interpreter; text frames carry the same JSON messages as the
// stdio transport.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/worker"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 << 20
)

var ErrShutdown = errors.New("server shutting down")

// Option configures a Server.
type Option func(*Server)

// WithSecret requires an HMAC-signed bearer token on /ws. An empty secret
// disables authentication.
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = []byte(secret)
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithWorkerOptions applies opts to every connection's worker.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(s *Server) {
		s.workerOpts = append(s.workerOpts, opts...)
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

type Server struct {
	factory    interp.Factory
	secret     []byte
	log        *zap.SugaredLogger
	workerOpts []worker.Option
	upgrader   websocket.Upgrader
	router     *mux.Router

	mu     sync.Mutex
	conns  map[string]*websocket.Conn
	closed bool
	wg     sync.WaitGroup
}

func New(factory interp.Factory, opts ...Option) *Server {
	s := &Server{
		factory: factory,
		log:     zap.NewNop().Sugar(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[string]*websocket.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	var wsHandler http.Handler = http.HandlerFunc(s.handleWS)
	if len(s.secret) > 0 {
		wsHandler = s.jwtMiddleware(wsHandler)
	}
	r.Handle("/ws", wsHandler).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully
// and closes every open connection.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infow("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close disconnects every client and waits for their workers to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.Connections(),
	})
}

func (s *Server) jwtMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "Authorization header missing", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			s.log.Debugw("rejecting token", "error", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for browser clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ErrShutdown.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.conns[id] = conn
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, id)
			s.mu.Unlock()
		}()
		s.serveConn(id, conn)
	}()
}

// connPoster writes worker messages as text frames. gorilla/websocket
// allows one concurrent writer.
type connPoster struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *connPoster) Post(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(v)
}

func (s *Server) serveConn(id string, conn *websocket.Conn) {
	defer conn.Close()
	log := s.log.With("conn", id)

	opts := append([]worker.Option{worker.WithLogger(log), worker.WithID(id)}, s.workerOpts...)
	wk, err := worker.New(s.factory, &connPoster{conn: conn}, opts...)
	if err != nil {
		log.Errorw("create worker", "error", err)
		return
	}
	log.Infow("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan []byte)
	go func() {
		defer close(in)
		defer cancel()
		conn.SetReadLimit(maxMessageSize)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warnw("read failed", "error", err)
				}
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case in <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := wk.Serve(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
		log.Warnw("serve ended", "error", err)
	}
	if err := wk.Close(); err != nil {
		log.Warnw("close worker", "error", err)
	}
	log.Infow("client disconnected")
}
