package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/events"
	"github.com/courtyard-project/courtyard/internal/protocol"
)

// ErrInterrupted is returned by Server.Serve and Client.Run when their
// context is cancelled.
var ErrInterrupted = errors.New("interrupted")

// Origin describes where an inbound frame came from.
type Origin struct {
	ID         protocol.ConnID
	Flavor     protocol.Flavor
	Registered bool

	// Local is set for frames injected from inside the process.
	Local bool
}

// Processor handles every inbound frame the Server does not handle itself.
// Returning false drops the originating connection.
//
// Process runs on the coordinator goroutine. It may call Send and Inject
// but must not block on network I/O.
type Processor interface {
	Process(origin Origin, frame *protocol.Buffer) bool
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(origin Origin, frame *protocol.Buffer) bool

func (f ProcessorFunc) Process(origin Origin, frame *protocol.Buffer) bool {
	return f(origin, frame)
}

// DisconnectObserver is implemented by processors that want to know when a
// connection leaves the registry. It is called from the coordinator after
// the batch removal that dropped the connection.
type DisconnectObserver interface {
	Disconnected(origin Origin)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Name labels log lines and events, e.g. "public" or "relay".
	Name string
	Addr string

	// InboundQueue bounds frames waiting for the coordinator. Readers block
	// when it is full.
	InboundQueue int
}

type inboundFrame struct {
	conn  *Connection
	frame *protocol.Buffer
	err   error
}

type routedFrame struct {
	route protocol.Route
	frame *protocol.Buffer
}

// Server accepts peers, assigns them ids, and routes frames between them.
//
// One reader goroutine per connection feeds a shared inbound queue; a single
// coordinator goroutine drains the inbound, outbound and external queues and
// is the only writer to sockets.
type Server struct {
	cfg       ServerConfig
	registry  *Registry
	processor Processor
	eventBus  *events.Bus
	logger    zerolog.Logger

	inbound  chan inboundFrame
	outbound *queue[routedFrame]
	external *queue[*protocol.Buffer]

	// removals is only touched by the coordinator.
	removals map[protocol.ConnID]*Connection

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewServer creates a Server. eventBus may be nil.
func NewServer(cfg ServerConfig, processor Processor, eventBus *events.Bus) *Server {
	if cfg.InboundQueue <= 0 {
		cfg.InboundQueue = 256
	}
	if cfg.Name == "" {
		cfg.Name = "server"
	}
	return &Server{
		cfg:       cfg,
		registry:  NewRegistry(),
		processor: processor,
		eventBus:  eventBus,
		logger:    log.With().Str("component", "server").Str("server", cfg.Name).Logger(),
		inbound:   make(chan inboundFrame, cfg.InboundQueue),
		outbound:  newQueue[routedFrame](),
		external:  newQueue[*protocol.Buffer](),
		removals:  make(map[protocol.ConnID]*Connection),
		ready:     make(chan struct{}),
	}
}

// Send queues frame for delivery to route. It never blocks.
func (s *Server) Send(route protocol.Route, frame *protocol.Buffer) {
	s.outbound.push(routedFrame{route: route, frame: frame})
}

// Inject queues frame for the processor as if it came from inside the
// process. It never blocks.
func (s *Server) Inject(frame *protocol.Buffer) {
	s.external.push(frame)
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Name returns the configured server name.
func (s *Server) Name() string {
	return s.cfg.Name
}

// Snapshot lists the current connections.
func (s *Server) Snapshot() []ConnectionInfo {
	return s.registry.Snapshot()
}

// Count returns the number of live connections.
func (s *Server) Count() int {
	return s.registry.Count()
}

// Listen opens a TCP listener that can rebind an address still held by
// sockets in TIME_WAIT.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := listenConfig()
	return lc.Listen(ctx, "tcp", addr)
}

// Serve binds the listen address and runs the accept loop and coordinator
// until ctx is cancelled, at which point every connection is closed and
// ErrInterrupted is returned. Failing to bind is returned immediately.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := Listen(ctx, s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start %s listener on %s: %w", s.cfg.Name, s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("listener started")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	go s.acceptLoop(ctx, listener)

	err = s.coordinate(ctx)

	s.registry.CloseAll()
	s.logger.Info().Msg("listener stopped, all connections cleared")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		rawConn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		conn, err := s.registry.Add(rawConn)
		if err != nil {
			s.logger.Warn().Err(err).Str("remote", rawConn.RemoteAddr().String()).Msg("rejecting connection")
			rawConn.Close()
			continue
		}

		conn.logger.Debug().Msg("connection accepted")
		s.emit(ctx, events.EventConnectionAccepted, conn.id, protocol.FlavorNone, rawConn.RemoteAddr())

		go s.readLoop(ctx, conn)
	}
}

// readLoop pushes every complete frame from conn to the coordinator. The
// first error ends the loop and is reported so the coordinator can remove
// the connection.
func (s *Server) readLoop(ctx context.Context, conn *Connection) {
	for {
		frame, err := conn.ReadFrame()
		select {
		case s.inbound <- inboundFrame{conn: conn, frame: frame, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) coordinate(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ErrInterrupted

		case in := <-s.inbound:
			s.handleInbound(ctx, in)

		case <-s.outbound.ready():
			for _, out := range s.outbound.drain() {
				s.deliver(out.route, out.frame)
			}

		case <-s.external.ready():
			for _, frame := range s.external.drain() {
				s.processor.Process(Origin{Local: true}, frame)
			}
		}

		s.applyRemovals(ctx)
	}
}

func (s *Server) handleInbound(ctx context.Context, in inboundFrame) {
	// A late frame from a reader whose connection was already removed, or
	// whose id has since been reassigned, is discarded.
	current, ok := s.registry.Get(in.conn.id)
	if !ok || current != in.conn {
		return
	}

	if in.err != nil {
		in.conn.logger.Debug().Err(in.err).Msg("read failed")
		s.queueRemoval(in.conn)
		return
	}

	cmd, err := protocol.ReadCommand(in.frame)
	if err != nil {
		s.queueRemoval(in.conn)
		return
	}

	if cmd == protocol.CmdRegister {
		s.register(ctx, in.conn, in.frame)
		return
	}

	// processors dispatch on the command themselves
	in.frame.Rewind()

	flavor, registered := s.registry.Flavor(in.conn.id)
	origin := Origin{ID: in.conn.id, Flavor: flavor, Registered: registered}
	if !s.processor.Process(origin, in.frame) {
		in.conn.logger.Warn().Str("command", cmd.String()).Msg("frame rejected by processor")
		s.queueRemoval(in.conn)
	}
}

func (s *Server) register(ctx context.Context, conn *Connection, frame *protocol.Buffer) {
	flavor, err := protocol.ParseRegister(frame)
	if err != nil {
		conn.logger.Warn().Err(err).Msg("invalid registration")
		s.queueRemoval(conn)
		return
	}

	s.registry.SetFlavor(conn.id, flavor)
	conn.logger.Info().Str("flavor", flavor.String()).Msg("connection registered")
	s.emit(ctx, events.EventConnectionRegistered, conn.id, flavor, conn.RemoteAddr())

	hello, err := protocol.BuildHello(conn.id)
	if err != nil {
		conn.logger.Error().Err(err).Msg("failed to build hello")
		return
	}
	s.deliver(protocol.One(conn.id), hello)
}

// deliver performs the socket writes for one routed frame. Failed targets
// are queued for removal; the remaining targets are still written.
func (s *Server) deliver(route protocol.Route, frame *protocol.Buffer) {
	switch route.Kind {
	case protocol.RouteNone:
		return
	case protocol.RouteLocal:
		s.Inject(frame)
		return
	}

	targets := s.registry.Targets(route)
	if len(targets) == 0 {
		s.logger.Debug().Str("route", route.String()).Msg("no target for frame, dropped")
		return
	}

	for _, conn := range targets {
		if err := conn.WriteFrame(frame); err != nil {
			conn.logger.Debug().Err(err).Msg("write failed")
			s.queueRemoval(conn)
		}
	}
}

func (s *Server) queueRemoval(conn *Connection) {
	s.removals[conn.id] = conn
}

func (s *Server) applyRemovals(ctx context.Context) {
	if len(s.removals) == 0 {
		return
	}

	removed := make([]Origin, 0, len(s.removals))
	for id, conn := range s.removals {
		delete(s.removals, id)

		flavor, registered := s.registry.Flavor(id)
		current, ok := s.registry.Get(id)
		if !ok || current != conn {
			continue
		}
		s.registry.Remove(id)
		conn.Close()

		s.emit(ctx, events.EventConnectionClosed, id, flavor, conn.RemoteAddr())
		removed = append(removed, Origin{ID: id, Flavor: flavor, Registered: registered})
	}

	if observer, ok := s.processor.(DisconnectObserver); ok {
		for _, origin := range removed {
			observer.Disconnected(origin)
		}
	}
}

func (s *Server) emit(ctx context.Context, typ events.EventType, id protocol.ConnID, flavor protocol.Flavor, remote net.Addr) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Emit(ctx, events.Event{
		Type:   typ,
		Source: "server:" + s.cfg.Name,
		Payload: events.ConnectionPayload{
			Server: s.cfg.Name,
			ID:     uint8(id),
			Flavor: flavor.String(),
			Remote: remote.String(),
		},
	})
}
