// Package relay is the hub of the internal service mesh. Every service and
// every gateway dials it, registers its flavor, and addresses the others
// through Forward envelopes.
package relay

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/events"
	"github.com/courtyard-project/courtyard/internal/network"
	"github.com/courtyard-project/courtyard/internal/protocol"
)

// Relay wraps a network.Server whose processor re-routes Forward
// envelopes.
type Relay struct {
	server *network.Server
	logger zerolog.Logger
}

// New creates a relay listening on addr. eventBus may be nil.
func New(addr string, eventBus *events.Bus) *Relay {
	r := &Relay{
		logger: log.With().Str("component", "relay").Logger(),
	}
	r.server = network.NewServer(network.ServerConfig{Name: "relay", Addr: addr}, r, eventBus)
	return r
}

// Server returns the underlying server.
func (r *Relay) Server() *network.Server { return r.server }

// Run serves until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	return r.server.Serve(ctx)
}

// Process re-queues a Forward envelope under its route with the source
// rewritten to the sender's id. Anything else from a peer is a protocol
// violation.
func (r *Relay) Process(origin network.Origin, frame *protocol.Buffer) bool {
	if origin.Local {
		r.logger.Debug().Str("frame", frame.String()).Msg("local frame")
		return true
	}
	if !origin.Registered {
		r.logger.Warn().Uint8("conn", uint8(origin.ID)).Msg("frame before registration")
		return false
	}

	cmd, err := protocol.ReadCommand(frame)
	if err != nil {
		return false
	}
	if cmd != protocol.CmdForward {
		r.logger.Warn().
			Uint8("conn", uint8(origin.ID)).
			Stringer("flavor", origin.Flavor).
			Stringer("command", cmd).
			Msg("unexpected command on the mesh")
		return false
	}

	fwd, err := protocol.ParseForward(frame)
	if err != nil {
		r.logger.Warn().Err(err).Uint8("conn", uint8(origin.ID)).Msg("malformed envelope")
		return false
	}

	env, err := protocol.BuildForward(fwd.Route, origin.ID, fwd.Inner)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to rebuild envelope")
		return true
	}

	r.logger.Trace().
		Uint8("source", uint8(origin.ID)).
		Stringer("route", fwd.Route).
		Msg("forwarding")
	r.server.Send(fwd.Route, env)
	return true
}
