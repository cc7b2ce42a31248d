package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/events"
	"github.com/courtyard-project/courtyard/internal/protocol"
)

const (
	DefaultBackoff     = 5 * time.Second
	DefaultDialTimeout = 10 * time.Second
	DefaultClientQueue = 1024
)

var (
	// ErrShutdown is returned by Client.Run when the processor asks for the
	// client role to stop.
	ErrShutdown = errors.New("client shut down by processor")

	// ErrQueueFull is returned by Client.Send when the outbound queue is
	// full. The frame is not queued.
	ErrQueueFull = errors.New("client outbound queue full")
)

// Verdict is a ClientProcessor's decision after handling one frame.
type Verdict int

const (
	// Continue keeps the current socket.
	Continue Verdict = iota
	// Disconnect drops the socket and dials again.
	Disconnect
	// Shutdown drops the socket and stops the client.
	Shutdown
)

func (v Verdict) String() string {
	switch v {
	case Continue:
		return "continue"
	case Disconnect:
		return "disconnect"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// ClientProcessor handles frames received by a Client. The frame is
// positioned at its command byte.
type ClientProcessor interface {
	Process(frame *protocol.Buffer) Verdict
}

// ClientProcessorFunc adapts a function to the ClientProcessor interface.
type ClientProcessorFunc func(frame *protocol.Buffer) Verdict

func (f ClientProcessorFunc) Process(frame *protocol.Buffer) Verdict {
	return f(frame)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Name   string
	Addr   string
	Flavor protocol.Flavor

	Backoff     time.Duration
	DialTimeout time.Duration
	QueueSize   int
}

// Client keeps one registered connection to a Server. It dials, registers
// under its flavor, and redials with a fixed backoff whenever the socket is
// lost. Frames queued with Send survive reconnects; a frame whose write
// failed is lost.
type Client struct {
	cfg       ClientConfig
	processor ClientProcessor
	eventBus  *events.Bus
	logger    zerolog.Logger

	outbound chan *protocol.Buffer

	mu        sync.Mutex
	connected bool
	id        protocol.ConnID
	hasID     bool
	assigned  chan struct{}
}

// NewClient creates a Client. eventBus may be nil.
func NewClient(cfg ClientConfig, processor ClientProcessor, eventBus *events.Bus) *Client {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultClientQueue
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Flavor.String()
	}
	return &Client{
		cfg:       cfg,
		processor: processor,
		eventBus:  eventBus,
		logger: log.With().
			Str("component", "client").
			Str("client", cfg.Name).
			Str("addr", cfg.Addr).
			Logger(),
		outbound: make(chan *protocol.Buffer, cfg.QueueSize),
		assigned: make(chan struct{}),
	}
}

// Send queues a frame for the server. It never blocks.
func (c *Client) Send(frame *protocol.Buffer) error {
	select {
	case c.outbound <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// ID returns the id the server assigned on the current socket.
func (c *Client) ID() (protocol.ConnID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.hasID
}

// Assigned returns a channel closed once the current socket has received
// its Hello. A new channel is handed out after every reconnect.
func (c *Client) Assigned() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assigned
}

// Connected reports whether a socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Flavor returns the flavor this client registers under.
func (c *Client) Flavor() protocol.Flavor {
	return c.cfg.Flavor
}

// Run dials and serves the connection until ctx is cancelled
// (ErrInterrupted) or the processor returns Shutdown (ErrShutdown).
// Unreachable peers are retried forever at the configured backoff, and so
// is every redial after a lost socket.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info().Str("flavor", c.cfg.Flavor.String()).Msg("starting client")

	for {
		if ctx.Err() != nil {
			return ErrInterrupted
		}

		conn, err := c.connect(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Dur("backoff", c.cfg.Backoff).Msg("connect failed, retrying")
			select {
			case <-ctx.Done():
				return ErrInterrupted
			case <-time.After(c.cfg.Backoff):
			}
			continue
		}

		verdict, err := c.serve(ctx, conn)
		c.disconnect(ctx, conn, err)

		switch {
		case verdict == Shutdown:
			c.logger.Info().Msg("processor requested shutdown")
			return ErrShutdown
		case ctx.Err() != nil:
			return ErrInterrupted
		}

		// a peer that accepts and drops us must not be redialed in a loop
		select {
		case <-ctx.Done():
			return ErrInterrupted
		case <-time.After(c.cfg.Backoff):
		}
	}
}

// connect dials the server and sends the registration frame.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.cfg.Addr, err)
	}

	register, err := protocol.BuildRegister(c.cfg.Flavor)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := register.WriteTo(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send registration: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.hasID = false
	c.mu.Unlock()

	c.logger.Info().Msg("connected")
	return conn, nil
}

type clientRead struct {
	frame *protocol.Buffer
	err   error
}

// serve runs the duplex loop for one socket. It returns the verdict that
// ended it, or Disconnect with the transport error.
func (c *Client) serve(ctx context.Context, conn net.Conn) (Verdict, error) {
	reads := make(chan clientRead)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			frame, err := protocol.ReadBuffer(conn)
			select {
			case reads <- clientRead{frame: frame, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return Disconnect, ctx.Err()

		case rd := <-reads:
			if rd.err != nil {
				return Disconnect, rd.err
			}
			if c.handleHello(ctx, rd.frame) {
				continue
			}
			if v := c.processor.Process(rd.frame); v != Continue {
				return v, nil
			}

		case frame := <-c.outbound:
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if _, err := frame.WriteTo(conn); err != nil {
				return Disconnect, fmt.Errorf("failed to write frame: %w", err)
			}
		}
	}
}

// handleHello consumes the server's Hello and records the assigned id.
// Any other frame is rewound and left for the processor.
func (c *Client) handleHello(ctx context.Context, frame *protocol.Buffer) bool {
	cmd, err := protocol.ReadCommand(frame)
	if err == nil && cmd == protocol.CmdHello {
		if id, err := protocol.ParseHello(frame); err == nil {
			c.mu.Lock()
			c.id = id
			if !c.hasID {
				c.hasID = true
				close(c.assigned)
			}
			c.mu.Unlock()

			c.logger.Info().Uint8("conn_id", uint8(id)).Msg("registered")
			assigned := uint8(id)
			c.emit(ctx, events.EventLinkUp, &assigned, "")
			return true
		}
	}
	frame.Rewind()
	return false
}

func (c *Client) disconnect(ctx context.Context, conn net.Conn, cause error) {
	conn.Close()

	c.mu.Lock()
	c.connected = false
	if c.hasID {
		c.assigned = make(chan struct{})
	}
	c.hasID = false
	c.mu.Unlock()

	reason := "closed"
	switch {
	case cause == nil:
	case errors.Is(cause, io.EOF):
		reason = "peer closed"
	default:
		reason = cause.Error()
	}
	c.logger.Warn().Str("reason", reason).Msg("disconnected")
	c.emit(ctx, events.EventLinkDown, nil, reason)
}

func (c *Client) emit(ctx context.Context, typ events.EventType, assigned *uint8, reason string) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Emit(ctx, events.Event{
		Type:   typ,
		Source: "client:" + c.cfg.Name,
		Payload: events.LinkPayload{
			Name:     c.cfg.Name,
			Addr:     c.cfg.Addr,
			Flavor:   c.cfg.Flavor.String(),
			Assigned: assigned,
			Reason:   reason,
		},
	})
}
