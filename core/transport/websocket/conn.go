// Package websocket is the duplex transport of a realtime session: text frames
// over a websocket with bearer authentication and ping keepalive.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-realtime/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultPingInterval     = 20 * time.Second

	betaHeader = "OpenAI-Beta"
	betaValue  = "realtime=v1"
)

var ErrClosed = errors.New("websocket transport closed")

var _ orchestration.Transport = (*Conn)(nil)

type Options struct {
	URL       string
	AuthToken string
	// Model is added as the model query parameter when set.
	Model  string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval is the keepalive period. The read deadline is twice the
	// interval and is extended by every pong.
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	return o
}

type received struct {
	frame []byte
	err   error
}

// Conn is a websocket connection implementing orchestration.Transport.
// Send is safe for concurrent use; Receive should have a single caller.
type Conn struct {
	conn    *gws.Conn
	options Options

	writeMu sync.Mutex

	incoming  chan received
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dialer adapts Dial to the session dialer, taking the server URL, token and
// model from the session config.
func Dialer(opts Options) orchestration.Dialer {
	return func(ctx context.Context, config orchestration.Config) (orchestration.Transport, error) {
		opts := opts
		if config.ServerURL != "" {
			opts.URL = config.ServerURL
		}
		if config.AuthToken != "" {
			opts.AuthToken = config.AuthToken
		}
		if config.Model != "" {
			opts.Model = config.Model
		}
		return Dial(ctx, opts)
	}
}

func Dial(ctx context.Context, opts Options) (*Conn, error) {
	ctx, span := tracer.Start(ctx, "dial websocket")
	defer span.End()

	opts = opts.withDefaults()
	endpoint, err := endpointURL(opts.URL, opts.Model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("server.address", endpoint.Host))

	header := http.Header{}
	for key, values := range opts.Header {
		header[key] = append([]string(nil), values...)
	}
	if opts.AuthToken != "" {
		header.Set("Authorization", "Bearer "+opts.AuthToken)
	}
	header.Set(betaHeader, betaValue)

	dialer := gws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("websocket dial failed: %w", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c := &Conn{
		conn:     conn,
		options:  opts,
		incoming: make(chan received),
		closed:   make(chan struct{}),
	}

	readTimeout := 2 * opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.wg.Add(2)
	go c.readLoop(readTimeout)
	go c.pingLoop()

	logger.Info("websocket connected", "host", endpoint.Host)
	return c, nil
}

func endpointURL(raw, model string) (*url.URL, error) {
	endpoint, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server url scheme %q: expected ws or wss", endpoint.Scheme)
	}
	if model != "" {
		query := endpoint.Query()
		query.Set("model", model)
		endpoint.RawQuery = query.Encode()
	}
	return endpoint, nil
}

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.options.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(gws.TextMessage, frame)
}

// Receive returns the next text frame. Binary frames are skipped.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	case next, ok := <-c.incoming:
		if !ok {
			return nil, ErrClosed
		}
		return next.frame, next.err
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(gws.CloseMessage,
			gws.FormatCloseMessage(gws.CloseNormalClosure, ""),
			time.Now().Add(c.options.WriteTimeout))
		c.writeMu.Unlock()

		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) readLoop(readTimeout time.Duration) {
	defer c.wg.Done()
	defer close(c.incoming)

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				err = fmt.Errorf("%w: %w", ErrClosed, err)
			}
			select {
			case c.incoming <- received{err: err}:
			case <-c.closed:
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != gws.TextMessage {
			logger.Debug("skipping non-text websocket frame", "type", messageType)
			continue
		}

		select {
		case c.incoming <- received{frame: frame}:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.options.WriteTimeout)
			if err := c.conn.WriteControl(gws.PingMessage, nil, deadline); err != nil {
				logger.Warn("websocket ping failed", "error", err)
				return
			}
		}
	}
}
