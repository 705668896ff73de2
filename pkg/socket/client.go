// Package socket is the WebSocket client for the battle backend. It reports
// round scores and relays the server's submit signal.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"cssbattle/pkg/logger"
	"cssbattle/pkg/round"
)

// Event names used by the battle backend.
const (
	EventUpdate   = "battle:update"
	EventSubmit   = "battle:submit"
	EventMyResult = "battle:my-result"
)

var (
	// ErrTokenExpired is returned when the event token is past its expiry.
	ErrTokenExpired = errors.New("socket: token expired")
	// ErrNotConnected is returned when emitting without a live connection.
	ErrNotConnected = errors.New("socket: not connected")
)

const writeWait = 10 * time.Second

// Envelope is the frame exchanged with the backend.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Update is the battle:update payload.
type Update struct {
	EventID string      `json:"eventId"`
	Point   json.Number `json:"point"`
	Time    int64       `json:"time"`
}

// Result is the battle:my-result payload.
type Result struct {
	Point float64   `json:"point"`
	Time  time.Time `json:"time"`
}

// Options configures a Client.
type Options struct {
	URL       string
	Token     string
	EventID   string
	Attempts  uint64        // connect attempts, default 5
	BaseDelay time.Duration // first backoff delay, default 500ms
	Dialer    *websocket.Dialer
	Logger    *zerolog.Logger
}

// Client is a battle backend connection. Handlers run on the read goroutine.
type Client struct {
	opts    Options
	log     zerolog.Logger
	subject string

	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	handlers map[string][]func(json.RawMessage)
}

// New validates opts and returns an unconnected client.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("socket: missing URL")
	}
	if opts.EventID == "" {
		return nil, errors.New("socket: missing event id")
	}
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	log := logger.Component("socket")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Client{
		opts:     opts,
		log:      log,
		handlers: make(map[string][]func(json.RawMessage)),
	}, nil
}

// inspectToken reads the token claims without verifying the signature; the
// backend does that. Opaque tokens are passed through.
func inspectToken(token string, now time.Time) (subject string, err error) {
	if token == "" {
		return "", nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return claims.Subject, fmt.Errorf("%w at %s", ErrTokenExpired, claims.ExpiresAt.Format(time.RFC3339))
	}
	return claims.Subject, nil
}

// Connect dials the backend with exponential backoff and starts reading.
func (c *Client) Connect(ctx context.Context) error {
	subject, err := inspectToken(c.opts.Token, time.Now())
	if err != nil {
		return err
	}
	c.subject = subject

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	backoff := retry.WithMaxRetries(c.opts.Attempts-1, retry.NewExponential(c.opts.BaseDelay))
	var conn *websocket.Conn
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		cn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return fmt.Errorf("socket: handshake rejected: %s", resp.Status)
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
			return retry.RetryableError(err)
		}
		conn = cn
		return nil
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.opts.URL, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	c.log.Info().Str("url", c.opts.URL).Str("subject", c.subject).Int("attempts", attempt).Msg("connected")
	go c.readLoop(conn, done)
	return nil
}

// readLoop owns conn: it closes the connection when reading stops.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer conn.Close()
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("read failed")
			}
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	handlers := append([]func(json.RawMessage){}, c.handlers[env.Event]...)
	c.mu.Unlock()
	if len(handlers) == 0 {
		c.log.Debug().Str("event", env.Event).Msg("unhandled event")
		return
	}
	for _, h := range handlers {
		h(env.Data)
	}
}

// On registers fn for every frame named event.
func (c *Client) On(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

// OnSubmitTime registers fn for the server's end-of-round signal.
func (c *Client) OnSubmitTime(fn func()) {
	c.On(EventSubmit, func(json.RawMessage) { fn() })
}

// OnResult registers fn for the player's recorded result.
func (c *Client) OnResult(fn func(Result)) {
	c.On(EventMyResult, func(data json.RawMessage) {
		var res Result
		if err := json.Unmarshal(data, &res); err != nil {
			c.log.Warn().Err(err).Msg("bad result payload")
			return
		}
		fn(res)
	})
}

// Emit sends one event frame.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(Envelope{Event: event, Data: raw}); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

// Submit implements round.Submitter by emitting battle:update.
func (c *Client) Submit(ctx context.Context, sub round.Submission) error {
	point := decimal.NewFromFloat(sub.Score).Round(2)
	err := c.Emit(ctx, EventUpdate, Update{
		EventID: c.opts.EventID,
		Point:   json.Number(point.String()),
		Time:    int64(sub.Elapsed / time.Second),
	})
	if err != nil {
		return err
	}
	c.log.Info().Str("round", sub.RoundID).Str("point", point.StringFixed(2)).Msg("score sent")
	return nil
}

// Close sends a close frame and waits for the read loop to exit and close
// the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		return conn.Close()
	}
}
