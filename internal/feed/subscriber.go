// Package feed subscribes to the certification push channel over
// WebSocket and forwards decoded events to the reconciler.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/roach88/certsync/internal/metrics"
	"github.com/roach88/certsync/internal/model"
)

// Channel tags events received over the push feed.
const Channel = "websocket"

// Defaults for Subscriber options.
const (
	DefaultReconnectInitial = time.Second
	DefaultReconnectMax     = 30 * time.Second

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Sink receives decoded events.
type Sink interface {
	Submit(ev model.Event) error
}

// Subscriber keeps a WebSocket subscription open, reconnecting with
// exponential backoff whenever it drops.
type Subscriber struct {
	url     string
	header  http.Header
	sink    Sink
	metrics *metrics.Metrics
	dialer  *websocket.Dialer
	backoff *backoff.ExponentialBackOff

	connected atomic.Bool
	received  atomic.Int64
	rejected  atomic.Int64
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithToken sends token as a bearer Authorization header on every dial.
func WithToken(token string) Option {
	return func(s *Subscriber) {
		if token != "" {
			s.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithReconnect sets the reconnect backoff bounds.
func WithReconnect(initial, maxInterval time.Duration) Option {
	return func(s *Subscriber) {
		s.backoff.InitialInterval = initial
		s.backoff.MaxInterval = maxInterval
	}
}

// WithMetrics reports connection state to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Subscriber) {
		s.metrics = m
	}
}

// WithDialer overrides the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Subscriber) {
		s.dialer = d
	}
}

// New creates a Subscriber for url that forwards events to sink.
func New(url string, sink Sink, opts ...Option) *Subscriber {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultReconnectInitial
	b.MaxInterval = DefaultReconnectMax

	s := &Subscriber{
		url:     url,
		header:  http.Header{},
		sink:    sink,
		dialer:  websocket.DefaultDialer,
		backoff: b,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connected reports whether a connection is currently open.
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// Received returns how many events were forwarded to the sink.
func (s *Subscriber) Received() int64 {
	return s.received.Load()
}

// Run connects and reads until ctx is cancelled, reconnecting after every
// dropped connection. It returns ctx.Err().
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.backoff.NextBackOff()
		if delay == backoff.Stop {
			delay = s.backoff.MaxInterval
		}
		slog.Warn("feed disconnected, reconnecting", "url", s.url, "retry_in", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session dials once and reads until the connection fails.
func (s *Subscriber) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.setConnected(true)
	defer s.setConnected(false)
	s.backoff.Reset()
	slog.Info("feed connected", "url", s.url)

	done := make(chan struct{})
	defer close(done)
	go s.keepalive(ctx, conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("feed closed by server")
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(data)
	}
}

// keepalive pings the server, and closes the connection when ctx is done
// so the blocked read returns.
func (s *Subscriber) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				slog.Debug("feed ping failed", "error", err)
			}
		}
	}
}

func (s *Subscriber) handle(data []byte) {
	ev, err := DecodeMessage(data, Channel)
	switch {
	case errors.Is(err, ErrIgnored):
		return
	case err != nil:
		s.rejected.Add(1)
		slog.Warn("feed message rejected", "error", err)
		return
	}
	if err := s.sink.Submit(ev); err != nil {
		slog.Warn("feed event not accepted", "cert", ev.CertKey, "error", err)
		return
	}
	s.received.Add(1)
}

func (s *Subscriber) setConnected(up bool) {
	s.connected.Store(up)
	s.metrics.SetFeedConnected(up)
}
