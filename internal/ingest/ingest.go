// Package ingest maintains a TCP connection to the sensor stream and feeds
// decoded frames into the router.
//
// The stream is newline-delimited JSON. The first line after connecting may
// be a service banner, which is logged and skipped. Malformed lines are
// dropped with a warning; a single bad producer must not stall ingestion.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/basketproof/sentinel/internal/frame"
)

// DefaultBackoff is the delay between reconnect attempts.
const DefaultBackoff = time.Second

// maxLineBytes bounds a single stream line. Frames are small; anything
// beyond this is a protocol error.
const maxLineBytes = 1 << 20

// FrameSink receives decoded frames. Enqueue returns false once the sink
// has shut down, which ends the client.
type FrameSink interface {
	Enqueue(f frame.Frame) bool
}

// errSinkClosed ends the reconnect loop when the downstream router stops.
var errSinkClosed = errors.New("ingest: frame sink closed")

// Client connects to the stream server and pushes frames into its sink,
// reconnecting forever until the context ends.
type Client struct {
	addr    string
	sink    FrameSink
	backoff time.Duration
	dial    func(ctx context.Context, addr string) (net.Conn, error)
	log     *slog.Logger

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithBackoff overrides the reconnect delay.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithLogger overrides the client's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithDialer overrides the dial function. Tests use this to inject
// failures without a listener.
func WithDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.dial = dial }
}

// New creates a client for the stream at addr feeding sink.
func New(addr string, sink FrameSink, opts ...Option) *Client {
	c := &Client{
		addr:    addr,
		sink:    sink,
		backoff: DefaultBackoff,
		log:     slog.Default(),
	}
	c.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Frames returns the number of frames forwarded to the sink.
func (c *Client) Frames() uint64 { return c.frames.Load() }

// Dropped returns the number of lines dropped as malformed.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Run connects and consumes the stream until ctx is cancelled, redialing
// after every disconnect. It returns ctx.Err() on cancellation and
// errSinkClosed if the sink shuts down first.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx, c.addr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("ingest: dial failed, retrying",
				"addr", c.addr, "backoff", c.backoff, "error", err)
			if err := sleep(ctx, c.backoff); err != nil {
				return err
			}
			continue
		}

		c.log.Info("ingest: connected", "addr", c.addr)
		err = c.consume(ctx, conn)
		conn.Close()

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errSinkClosed):
			return err
		}

		c.log.Warn("ingest: stream ended, reconnecting",
			"addr", c.addr, "backoff", c.backoff, "error", err)
		if err := sleep(ctx, c.backoff); err != nil {
			return err
		}
	}
}

// consume reads lines off one connection until it breaks. A goroutine
// watches the context and unblocks the read by closing the connection.
func (c *Client) consume(ctx context.Context, conn net.Conn) error {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		if b, ok := frame.DecodeBanner(line); ok {
			c.log.Info("ingest: stream banner",
				"service", b.Service, "datasets", b.Datasets, "events", b.Events)
			continue
		}

		f, err := frame.Decode(line)
		if err != nil {
			c.dropped.Add(1)
			c.log.Warn("ingest: dropping malformed line", "error", err)
			continue
		}

		if !c.sink.Enqueue(f) {
			return errSinkClosed
		}
		c.frames.Add(1)
	}
	return sc.Err()
}

// sleep waits for d or until ctx ends, whichever is first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
