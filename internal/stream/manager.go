// Package stream holds one long-lived websocket subscription open, decodes
// its frames and forwards the resulting events downstream in receipt order.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/skystream/internal/event"
)

const (
	cursorSaveInterval = 5 * time.Second
	statsLogInterval   = 30 * time.Second
)

// RetryPolicy is the fixed wait before reconnecting after each failure class.
type RetryPolicy struct {
	// ConnectDelay applies when the dial or handshake fails.
	ConnectDelay time.Duration

	// ReadDelay applies when an established connection drops.
	ReadDelay time.Duration
}

// Protocol adapts a particular stream (firehose, Jetstream) to the Manager.
type Protocol interface {
	// Name identifies the stream in logs, metrics and the cursor store.
	Name() string

	// URL returns the subscription URL resuming after cursor. A zero cursor
	// means start live.
	URL(cursor int64) (string, error)

	// Hello returns a message to send right after connecting, or nil.
	Hello() ([]byte, error)

	// Decode turns one websocket message into an event.
	Decode(messageType int, data []byte) (event.Event, error)

	Retry() RetryPolicy
}

// CursorStore persists resume cursors across restarts.
type CursorStore interface {
	// GetCursor returns 0 if no cursor has been saved for service.
	GetCursor(ctx context.Context, service string) (int64, error)
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// connectError marks failures that happened before the stream was established.
type connectError struct {
	err error
}

func (e *connectError) Error() string { return e.err.Error() }
func (e *connectError) Unwrap() error { return e.err }

// Manager owns one streaming connection and reconnects it forever, resuming
// from the last cursor it forwarded. Both protocols share this supervision;
// no transport error is fatal.
type Manager struct {
	proto   Protocol
	out     chan<- event.Event
	dialer  *websocket.Dialer
	cursors CursorStore
	logger  *slog.Logger
	metrics *Metrics

	cursor    atomic.Int64
	hasCursor bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithCursor starts the first connection at cursor instead of live or the
// stored cursor.
func WithCursor(cursor int64) Option {
	return func(m *Manager) {
		if cursor > 0 {
			m.cursor.Store(cursor)
			m.hasCursor = true
		}
	}
}

// WithCursorStore loads the starting cursor from store and saves progress to it.
func WithCursorStore(store CursorStore) Option {
	return func(m *Manager) {
		m.cursors = store
	}
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithMetrics records connection metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a manager that forwards decoded events to out. The
// connection parameters in proto are fixed for the manager's lifetime.
func NewManager(proto Protocol, out chan<- event.Event, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		proto:  proto,
		out:    out,
		dialer: websocket.DefaultDialer,
		logger: logger.With("stream", proto.Name()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cursor returns the cursor of the last event forwarded downstream.
func (m *Manager) Cursor() int64 {
	return m.cursor.Load()
}

// Run connects and forwards events until ctx is cancelled. Connect failures
// and dropped connections are logged and retried after the protocol's delay.
func (m *Manager) Run(ctx context.Context) error {
	m.loadCursor(ctx)
	defer m.saveCursor(context.WithoutCancel(ctx))

	retry := m.proto.Retry()
	for {
		err := m.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := retry.ReadDelay
		var ce *connectError
		if errors.As(err, &ce) {
			delay = retry.ConnectDelay
		}
		m.metrics.reconnect(m.proto.Name())
		m.logger.Error("stream connection error, reconnecting",
			"error", err,
			"delay", delay,
			"cursor", m.cursor.Load(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (m *Manager) loadCursor(ctx context.Context) {
	if m.hasCursor || m.cursors == nil {
		return
	}
	cursor, err := m.cursors.GetCursor(ctx, m.proto.Name())
	if err != nil {
		m.logger.Warn("failed to load cursor, starting from live", "error", err)
		return
	}
	if cursor > 0 {
		m.cursor.Store(cursor)
		m.logger.Info("resuming from stored cursor", "cursor", cursor)
	}
}

func (m *Manager) saveCursor(ctx context.Context) {
	cursor := m.cursor.Load()
	if m.cursors == nil || cursor == 0 {
		return
	}
	if err := m.cursors.UpdateCursor(ctx, m.proto.Name(), cursor); err != nil {
		m.logger.Error("failed to save cursor", "error", err)
	}
}

func (m *Manager) subscribe(ctx context.Context) error {
	wsURL, err := m.proto.URL(m.cursor.Load())
	if err != nil {
		return &connectError{err: fmt.Errorf("build url: %w", err)}
	}
	m.logger.Info("connecting to stream", "url", wsURL)

	conn, _, err := m.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return &connectError{err: fmt.Errorf("dial %s: %w", m.proto.Name(), err)}
	}
	defer conn.Close()

	// ReadMessage does not observe ctx; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hello, err := m.proto.Hello()
	if err != nil {
		return &connectError{err: fmt.Errorf("build hello: %w", err)}
	}
	if hello != nil {
		if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
			return &connectError{err: fmt.Errorf("send hello: %w", err)}
		}
	}

	m.logger.Info("connected to stream")

	lastCursorSave := time.Now()
	lastStatsLog := time.Now()
	var framesReceived, eventsForwarded, decodeErrors int64

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}
		framesReceived++
		m.metrics.frame(m.proto.Name())

		ev, err := m.proto.Decode(msgType, data)
		if err != nil {
			decodeErrors++
			m.metrics.decodeError(m.proto.Name())
			m.logger.Warn("failed to decode frame", "error", err, "bytes", len(data))
			continue
		}

		select {
		case m.out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
		eventsForwarded++
		if cursor, ok := ev.Cursor(); ok {
			m.cursor.Store(cursor)
		}

		if time.Since(lastStatsLog) >= statsLogInterval {
			m.logger.Info("stream stats",
				"frames_received", framesReceived,
				"events_forwarded", eventsForwarded,
				"decode_errors", decodeErrors,
				"cursor", m.cursor.Load(),
			)
			lastStatsLog = time.Now()
		}

		if m.cursors != nil && time.Since(lastCursorSave) >= cursorSaveInterval {
			m.saveCursor(ctx)
			lastCursorSave = time.Now()
		}
	}
}

// BuildURL resolves host against path. A bare host gets the wss scheme; a
// host that already carries a scheme is used as the base as-is, with path
// appended only when the base has none.
func BuildURL(host, path string, query url.Values) (string, error) {
	base := host
	if !strings.Contains(host, "://") {
		base = "wss://" + host
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse host %q: %w", host, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}
