package httpserver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackmichael/skystream/internal/pipeline"
)

const writeWait = 10 * time.Second

// TokenSource is the stage /subscribe streams from. It should drop on full so
// a slow client cannot stall the pipeline.
type TokenSource interface {
	AddReceiver() *pipeline.Receiver[pipeline.TokenizedPost]
	RemoveReceiver(id uuid.UUID) bool
}

// Server serves health, metrics and a websocket feed of tokenized posts.
type Server struct {
	tokens     TokenSource
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new HTTP server on port. gatherer backs /metrics.
func NewServer(port int, tokens TokenSource, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		tokens: tokens,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("GET /subscribe", s.handleSubscribe)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's routes with request logging.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// tokenMessage is one /subscribe payload.
type tokenMessage struct {
	URI       string     `json:"uri"`
	CID       string     `json:"cid,omitempty"`
	DID       string     `json:"did"`
	Action    string     `json:"action"`
	Text      string     `json:"text"`
	Langs     []string   `json:"langs,omitempty"`
	CreatedAt string     `json:"createdAt,omitempty"`
	Tokens    [][]string `json:"tokens"`
}

func newTokenMessage(tp pipeline.TokenizedPost) tokenMessage {
	return tokenMessage{
		URI:       tp.Post.URI,
		CID:       tp.Post.CID,
		DID:       tp.Post.Event.Repo(),
		Action:    tp.Post.Action,
		Text:      tp.Post.Record.Text,
		Langs:     tp.Post.Record.Langs,
		CreatedAt: tp.Post.Record.CreatedAt,
		Tokens:    tp.Tokens,
	}
}

// handleSubscribe registers a receiver on the token source for the lifetime of
// the websocket and forwards every item as a JSON text message.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The server's read and write timeouts still apply to the hijacked conn.
	_ = conn.SetReadDeadline(time.Time{})

	recv := s.tokens.AddReceiver()
	defer s.tokens.RemoveReceiver(recv.ID)
	logger := s.logger.With("receiver", recv.ID, "remote", r.RemoteAddr)
	logger.Info("subscriber connected")

	// Clients only send control frames; reading surfaces their close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			logger.Info("subscriber disconnected")
			return
		case tp, ok := <-recv.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "pipeline stopped"),
					time.Now().Add(writeWait))
				return
			}
			payload, err := json.Marshal(newTokenMessage(tp))
			if err != nil {
				logger.Error("failed to encode token message", "uri", tp.Post.URI, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Info("subscriber write failed", "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
