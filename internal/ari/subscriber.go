package ari

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Reconnect backoff bounds. Attempts are unlimited; the PBX may be down for
// a long time and the engine must recover without restart.
const (
	initialReconnectBackoff = 2 * time.Second
	maxReconnectBackoff     = 60 * time.Second
)

// Subscriber maintains the long-lived ARI event WebSocket and delivers
// decoded events on a channel. It reconnects forever with exponential
// backoff; readiness is false while disconnected. Lost events are not
// replayed after a reconnect.
type Subscriber struct {
	baseURL  string
	appName  string
	username string
	password string

	ready  atomic.Bool
	events chan Event
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	// BaseURL is the ARI HTTP root, e.g. "http://127.0.0.1:8088/ari". The
	// WebSocket URL is derived from it.
	BaseURL  string
	AppName  string
	Username string
	Password string

	// EventBuffer is the capacity of the delivery channel. Defaults to 256.
	EventBuffer int
}

// NewSubscriber creates an event subscriber. Call [Subscriber.Run] to start
// it.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Subscriber{
		baseURL:  cfg.BaseURL,
		appName:  cfg.AppName,
		username: cfg.Username,
		password: cfg.Password,
		events:   make(chan Event, buf),
	}
}

// Events returns the delivery channel. It is closed when Run returns.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Ready reports whether the WebSocket is currently connected.
func (s *Subscriber) Ready() bool {
	return s.ready.Load()
}

// Run connects and pumps events until ctx is cancelled. Disconnects trigger
// reconnection with exponential backoff. The first connection attempt's
// error is returned immediately so startup can distinguish bad credentials
// from a transient outage.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.events)

	wsURL, err := s.websocketURL()
	if err != nil {
		return fmt.Errorf("ari: subscriber: %w", err)
	}

	first := true
	backoff := initialReconnectBackoff
	for {
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			if first {
				return fmt.Errorf("ari: subscriber initial connect: %w", err)
			}
			slog.Warn("ari event socket connect failed",
				"app", s.appName,
				"backoff", backoff,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}
		first = false
		backoff = initialReconnectBackoff

		s.ready.Store(true)
		slog.Info("ari event socket connected", "app", s.appName)

		err = s.readLoop(ctx, conn)
		s.ready.Store(false)
		conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("ari event socket disconnected", "app", s.appName, "error", err)
	}
}

// readLoop reads and decodes events until the connection drops or ctx is
// cancelled.
func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// Raise the limit above the default 32 KiB; Varset events can carry
	// large values.
	conn.SetReadLimit(1 << 20)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			slog.Warn("ari event decode failed", "error", err)
			continue
		}
		if ev.Payload == nil {
			// Event type the engine does not handle.
			continue
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// websocketURL derives the event WebSocket URL from the ARI HTTP base URL.
func (s *Subscriber) websocketURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"

	q := u.Query()
	q.Set("app", s.appName)
	q.Set("api_key", s.username+":"+s.password)
	q.Set("subscribeAll", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxReconnectBackoff {
		return maxReconnectBackoff
	}
	return next
}
