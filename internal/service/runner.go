// Package service hosts the reference mesh services. Each one is a Runner:
// a mesh client of one flavor plus a Handler that turns forwarded frames
// into replies.
package service

import (
	"context"
	"time"

	"github.com/panjf2000/ants"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/events"
	"github.com/courtyard-project/courtyard/internal/network"
	"github.com/courtyard-project/courtyard/internal/protocol"
)

// Reply is a frame a handler wants delivered somewhere on the mesh.
type Reply struct {
	Route protocol.Route
	Frame *protocol.Buffer
}

// Handler handles one frame forwarded to the service. source is the relay
// id of the sender; frame is positioned just after cmd.
type Handler interface {
	Handle(ctx context.Context, source protocol.ConnID, cmd protocol.Command, frame *protocol.Buffer) []Reply
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, source protocol.ConnID, cmd protocol.Command, frame *protocol.Buffer) []Reply

func (f HandlerFunc) Handle(ctx context.Context, source protocol.ConnID, cmd protocol.Command, frame *protocol.Buffer) []Reply {
	return f(ctx, source, cmd, frame)
}

// Config configures a Runner.
type Config struct {
	MeshAddr string
	Flavor   protocol.Flavor
	Backoff  time.Duration

	// Workers runs handlers on a pool of that size. Zero handles frames in
	// arrival order on the mesh goroutine.
	Workers int
}

// Runner connects a Handler to the mesh.
type Runner struct {
	cfg     Config
	handler Handler
	client  *network.Client
	logger  zerolog.Logger

	ctx  context.Context
	pool *ants.Pool
}

// NewRunner creates a Runner. eventBus may be nil.
func NewRunner(cfg Config, handler Handler, eventBus *events.Bus) *Runner {
	r := &Runner{
		cfg:     cfg,
		handler: handler,
		logger:  log.With().Str("component", "service").Str("flavor", cfg.Flavor.String()).Logger(),
	}
	r.client = network.NewClient(network.ClientConfig{
		Name:    cfg.Flavor.String(),
		Addr:    cfg.MeshAddr,
		Flavor:  cfg.Flavor,
		Backoff: cfg.Backoff,
	}, network.ClientProcessorFunc(r.process), eventBus)
	return r
}

// Client returns the mesh client.
func (r *Runner) Client() *network.Client { return r.client }

// Run serves until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.ctx = ctx
	if r.cfg.Workers > 0 {
		pool, err := ants.NewPool(r.cfg.Workers)
		if err != nil {
			return err
		}
		r.pool = pool
		defer pool.Release()
	}

	r.logger.Info().Str("mesh", r.cfg.MeshAddr).Int("workers", r.cfg.Workers).Msg("service started")
	return r.client.Run(ctx)
}

func (r *Runner) process(frame *protocol.Buffer) network.Verdict {
	cmd, err := protocol.ReadCommand(frame)
	if err != nil || cmd != protocol.CmdForward {
		return network.Continue
	}
	fwd, err := protocol.ParseForward(frame)
	if err != nil {
		r.logger.Warn().Err(err).Msg("malformed envelope")
		return network.Continue
	}
	inner, err := protocol.ReadCommand(fwd.Inner)
	if err != nil {
		return network.Continue
	}

	task := func() { r.dispatch(fwd.Source, inner, fwd.Inner) }
	if r.pool == nil {
		task()
		return network.Continue
	}
	if err := r.pool.Submit(task); err != nil {
		r.logger.Warn().Err(err).Stringer("command", inner).Msg("worker pool rejected frame")
	}
	return network.Continue
}

func (r *Runner) dispatch(source protocol.ConnID, cmd protocol.Command, frame *protocol.Buffer) {
	for _, reply := range r.handler.Handle(r.ctx, source, cmd, frame) {
		env, err := protocol.BuildForward(reply.Route, 0, reply.Frame)
		if err != nil {
			r.logger.Error().Err(err).Stringer("route", reply.Route).Msg("failed to wrap reply")
			continue
		}
		if err := r.client.Send(env); err != nil {
			r.logger.Warn().Err(err).Stringer("route", reply.Route).Msg("reply dropped")
		}
	}
}
