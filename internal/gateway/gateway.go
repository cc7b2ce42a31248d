package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/courtyard-project/courtyard/internal/events"
	"github.com/courtyard-project/courtyard/internal/network"
	"github.com/courtyard-project/courtyard/internal/protocol"
)

// Config configures a Gateway.
type Config struct {
	MeshAddr   string
	PublicAddr string

	// Backoff is the mesh redial interval.
	Backoff time.Duration

	// SessionTTL is how long a session may stay unbound before it is swept.
	// Zero disables sweeping.
	SessionTTL    time.Duration
	SweepInterval time.Duration

	// RateLimit is the per-connection frame rate on the public listener.
	// Zero disables it.
	RateLimit float64
	RateBurst int
}

// pendingTimeout bounds how long a login whose client has left waits for
// its grant.
const pendingTimeout = time.Minute

// pendingLogin is a login forwarded to auth and not yet answered. A
// connection has at most one live entry. live is cleared when the client
// disconnects, so a late grant still creates the session for a reconnect.
type pendingLogin struct {
	requester protocol.ConnID
	live      bool
	issued    time.Time
}

// Gateway is a Server toward external clients and a Client toward the
// internal mesh.
type Gateway struct {
	cfg      Config
	sessions *Sessions
	public   *network.Server
	mesh     *network.Client
	eventBus *events.Bus
	logger   zerolog.Logger

	// limiters is only touched by the public coordinator.
	limiters map[protocol.ConnID]*rate.Limiter

	mu      sync.Mutex
	pending map[protocol.Token]pendingLogin
	now     func() time.Time
}

// New creates a Gateway. eventBus may be nil.
func New(cfg Config, eventBus *events.Bus) *Gateway {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	g := &Gateway{
		cfg:      cfg,
		sessions: NewSessions(),
		eventBus: eventBus,
		logger:   log.With().Str("component", "gateway").Logger(),
		limiters: make(map[protocol.ConnID]*rate.Limiter),
		pending:  make(map[protocol.Token]pendingLogin),
		now:      time.Now,
	}
	g.public = network.NewServer(network.ServerConfig{
		Name: "public",
		Addr: cfg.PublicAddr,
	}, g, eventBus)
	g.mesh = network.NewClient(network.ClientConfig{
		Name:    "mesh",
		Addr:    cfg.MeshAddr,
		Flavor:  protocol.FlavorGateway,
		Backoff: cfg.Backoff,
	}, network.ClientProcessorFunc(g.processMesh), eventBus)
	return g
}

// Sessions returns the session table.
func (g *Gateway) Sessions() *Sessions { return g.sessions }

// Public returns the client-facing server.
func (g *Gateway) Public() *network.Server { return g.public }

// Mesh returns the mesh client.
func (g *Gateway) Mesh() *network.Client { return g.mesh }

// Run serves the public listener, keeps the mesh link up and sweeps idle
// sessions until ctx is cancelled or one of them fails.
func (g *Gateway) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return g.public.Serve(ctx) })
	group.Go(func() error { return g.mesh.Run(ctx) })
	group.Go(func() error {
		g.sweepLoop(ctx)
		return nil
	})

	g.logger.Info().
		Str("mesh", g.cfg.MeshAddr).
		Str("public", g.cfg.PublicAddr).
		Dur("session_ttl", g.cfg.SessionTTL).
		Msg("gateway started")

	err := group.Wait()
	if errors.Is(err, network.ErrInterrupted) {
		g.logger.Info().Msg("gateway stopped")
	}
	return err
}

func (g *Gateway) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

// Sweep removes sessions that have been unbound longer than the TTL and
// returns them. Only abandoned logins are dropped when the TTL is zero.
func (g *Gateway) Sweep() []Session {
	g.prunePending()
	if g.cfg.SessionTTL <= 0 {
		return nil
	}
	expired := g.sessions.Sweep(g.cfg.SessionTTL)
	for _, sess := range expired {
		g.emit(events.EventSessionExpired, sess)
	}
	if len(expired) > 0 {
		g.logger.Info().Int("expired", len(expired)).Int("remaining", g.sessions.Len()).Msg("swept idle sessions")
	}
	return expired
}

func (g *Gateway) prunePending() {
	cutoff := g.now().Add(-pendingTimeout)

	g.mu.Lock()
	defer g.mu.Unlock()
	for token, p := range g.pending {
		if !p.live && p.issued.Before(cutoff) {
			delete(g.pending, token)
		}
	}
}

// Revoke drops token's session whether or not it is bound. A bound
// connection stays open, but frames carrying the token are ignored.
func (g *Gateway) Revoke(token protocol.Token) bool {
	sess, ok := g.sessions.Lookup(token)
	if !ok || !g.sessions.Remove(token) {
		return false
	}
	g.logger.Info().Str("display", sess.Display).Bool("bound", sess.Bound).Msg("session revoked")
	g.emit(events.EventSessionExpired, sess)
	return true
}

// Process handles a frame from an external client.
func (g *Gateway) Process(origin network.Origin, frame *protocol.Buffer) bool {
	if origin.Local {
		return true
	}
	if !origin.Registered {
		g.logger.Debug().Uint8("conn", uint8(origin.ID)).Msg("ignoring frame from unregistered client")
		return true
	}
	if !g.allow(origin.ID) {
		g.logger.Warn().Uint8("conn", uint8(origin.ID)).Msg("client exceeded rate limit, dropping")
		return false
	}

	cmd, err := protocol.ReadCommand(frame)
	if err != nil {
		return false
	}

	switch cmd {
	case protocol.CmdLogin:
		return g.handleLogin(origin.ID, frame)
	case protocol.CmdHello:
		return g.handleHello(origin.ID, frame)
	case protocol.CmdChat:
		line, err := protocol.ParseClientChat(frame)
		if err != nil {
			return g.reject(origin.ID, err)
		}
		sess, ok := g.lookup(line.Session)
		if !ok {
			return true
		}
		inner, err := protocol.BuildChat(sess.Display, line.Text)
		g.forward(protocol.Any(protocol.FlavorChat), inner, err)
	case protocol.CmdInventory:
		token, err := protocol.ParseClientInventory(frame)
		if err != nil {
			return g.reject(origin.ID, err)
		}
		sess, ok := g.lookup(token)
		if !ok {
			return true
		}
		inner, err := protocol.BuildInventoryRequest(header(origin.ID, sess))
		g.forward(protocol.Any(protocol.FlavorInventory), inner, err)
	case protocol.CmdGame:
		game, err := protocol.ParseClientGame(frame)
		if err != nil {
			return g.reject(origin.ID, err)
		}
		sess, ok := g.lookup(game.Session)
		if !ok {
			return true
		}
		inner, err := protocol.BuildGame(header(origin.ID, sess), game.Command, game.Body)
		g.forward(protocol.Any(protocol.FlavorGame), inner, err)
	default:
		g.logger.Debug().
			Uint8("conn", uint8(origin.ID)).
			Stringer("command", cmd).
			Msg("ignoring client command")
	}
	return true
}

// Disconnected unbinds the session of a departed client.
func (g *Gateway) Disconnected(origin network.Origin) {
	delete(g.limiters, origin.ID)

	g.mu.Lock()
	for token, p := range g.pending {
		if p.live && p.requester == origin.ID {
			p.live = false
			g.pending[token] = p
		}
	}
	g.mu.Unlock()

	if sess, ok := g.sessions.Unbind(origin.ID); ok {
		g.logger.Debug().Str("user", sess.Display).Uint8("conn", uint8(origin.ID)).Msg("session unbound")
		g.emit(events.EventSessionUnbound, sess)
	}
}

func (g *Gateway) allow(id protocol.ConnID) bool {
	if g.cfg.RateLimit <= 0 {
		return true
	}
	lim, ok := g.limiters[id]
	if !ok {
		burst := g.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(g.cfg.RateLimit), burst)
		g.limiters[id] = lim
	}
	return lim.Allow()
}

func (g *Gateway) handleLogin(id protocol.ConnID, frame *protocol.Buffer) bool {
	user, password, err := protocol.ParseLogin(frame)
	if err != nil {
		return g.reject(id, err)
	}

	token := protocol.NewToken()
	g.mu.Lock()
	for old, p := range g.pending {
		if p.live && p.requester == id {
			delete(g.pending, old)
		}
	}
	g.pending[token] = pendingLogin{requester: id, live: true, issued: g.now()}
	g.mu.Unlock()

	inner, err := protocol.BuildAuthorizeRequest(protocol.AuthorizeRequest{
		Requester: id,
		Session:   token,
		User:      protocol.Str(user),
		Password:  protocol.Str(password),
	})
	if g.forward(protocol.Any(protocol.FlavorAuth), inner, err) {
		g.logger.Debug().Str("user", user).Uint8("conn", uint8(id)).Msg("login forwarded to auth")
		return true
	}

	g.mu.Lock()
	delete(g.pending, token)
	g.mu.Unlock()
	g.replyLogin(id, false, protocol.NilToken, "authentication unavailable")
	return true
}

func (g *Gateway) handleHello(id protocol.ConnID, frame *protocol.Buffer) bool {
	token, err := protocol.ParseClientHello(frame)
	if err != nil {
		return g.reject(id, err)
	}
	sess, ok := g.sessions.Bind(token, id)
	if !ok {
		g.logger.Debug().Uint8("conn", uint8(id)).Msg("hello for unknown session")
		return true
	}
	g.logger.Info().Str("user", sess.Display).Uint8("conn", uint8(id)).Msg("session bound")
	g.emit(events.EventSessionBound, sess)
	return true
}

func (g *Gateway) lookup(token protocol.Token) (Session, bool) {
	sess, ok := g.sessions.Lookup(token)
	if !ok {
		g.logger.Debug().Msg("request for unknown session dropped")
	}
	return sess, ok
}

func (g *Gateway) reject(id protocol.ConnID, err error) bool {
	g.logger.Warn().Err(err).Uint8("conn", uint8(id)).Msg("malformed client frame, dropping")
	return false
}

// forward wraps inner in a mesh envelope and queues it on the mesh link.
// buildErr is the error from building inner.
func (g *Gateway) forward(route protocol.Route, inner *protocol.Buffer, buildErr error) bool {
	if buildErr != nil {
		g.logger.Warn().Err(buildErr).Stringer("route", route).Msg("failed to build mesh frame")
		return false
	}
	env, err := protocol.BuildForward(route, 0, inner)
	if err != nil {
		g.logger.Warn().Err(err).Stringer("route", route).Msg("failed to build mesh frame")
		return false
	}
	if err := g.mesh.Send(env); err != nil {
		g.logger.Warn().Err(err).Stringer("route", route).Msg("mesh frame dropped")
		return false
	}
	return true
}

func (g *Gateway) replyLogin(id protocol.ConnID, ok bool, token protocol.Token, text string) {
	reply, err := protocol.BuildLoginResult(ok, token, text)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to build login result")
		return
	}
	g.public.Send(protocol.One(id), reply)
}

// processMesh handles a frame arriving from the relay.
func (g *Gateway) processMesh(frame *protocol.Buffer) network.Verdict {
	cmd, err := protocol.ReadCommand(frame)
	if err != nil {
		g.logger.Warn().Err(err).Msg("malformed mesh frame")
		return network.Continue
	}
	if cmd != protocol.CmdForward {
		g.logger.Debug().Stringer("command", cmd).Msg("ignoring bare mesh command")
		return network.Continue
	}

	fwd, err := protocol.ParseForward(frame)
	if err != nil {
		g.logger.Warn().Err(err).Msg("malformed mesh envelope")
		return network.Continue
	}
	inner, err := protocol.ReadCommand(fwd.Inner)
	if err != nil {
		g.logger.Warn().Err(err).Msg("malformed mesh frame")
		return network.Continue
	}

	switch {
	case inner == protocol.CmdAuthorize:
		grant, err := protocol.ParseAuthorizeGrant(fwd.Inner)
		if err != nil {
			g.logger.Warn().Err(err).Uint8("source", uint8(fwd.Source)).Msg("malformed grant")
			return network.Continue
		}
		g.handleGrant(grant, fwd.Source)
	case inner == protocol.CmdChat:
		g.public.Send(protocol.All(protocol.FlavorClient), fwd.Inner)
	case inner.UserAddressed():
		g.deliverToUser(inner, fwd)
	default:
		g.logger.Debug().Stringer("command", inner).Uint8("source", uint8(fwd.Source)).Msg("ignoring mesh command")
	}
	return network.Continue
}

// handleGrant only honors grants for tokens this gateway minted and is
// still waiting on.
func (g *Gateway) handleGrant(grant *protocol.AuthorizeGrant, source protocol.ConnID) {
	g.mu.Lock()
	p, issued := g.pending[grant.Session]
	delete(g.pending, grant.Session)
	g.mu.Unlock()

	if !issued {
		g.logger.Warn().Uint8("source", uint8(source)).Msg("ignoring grant for a login not in flight")
		return
	}
	requester := p.requester
	waiting := p.live && p.requester == grant.Requester

	if grant.OK {
		sess := g.sessions.Authorize(grant.Session, grant.User, string(grant.Display))
		g.logger.Info().Str("user", sess.Display).Msg("session authorized")
		g.emit(events.EventSessionAuthorized, sess)
	}

	if !waiting {
		return
	}
	if grant.OK {
		g.replyLogin(requester, true, grant.Session, string(grant.Display))
		return
	}
	reason := string(grant.Display)
	if reason == "" {
		reason = "invalid credentials"
	}
	g.replyLogin(requester, false, protocol.NilToken, reason)
}

// deliverToUser sends a user-addressed reply to whichever connection the
// session is bound to now.
func (g *Gateway) deliverToUser(cmd protocol.Command, fwd *protocol.Forward) {
	h, err := protocol.ParseGatewayHeader(fwd.Inner)
	if err != nil {
		g.logger.Warn().Err(err).Stringer("command", cmd).Msg("malformed user reply")
		return
	}
	sess, ok := g.sessions.Lookup(h.Session)
	if !ok || !sess.Bound {
		g.logger.Debug().Stringer("command", cmd).Msg("reply for absent user dropped")
		return
	}
	out, err := protocol.BuildUserFrame(cmd, fwd.Inner.Rest())
	if err != nil {
		g.logger.Warn().Err(err).Stringer("command", cmd).Msg("failed to build user frame")
		return
	}
	g.public.Send(protocol.One(sess.ConnID), out)
}

func header(id protocol.ConnID, sess Session) protocol.GatewayHeader {
	return protocol.GatewayHeader{ConnID: id, User: sess.User, Session: sess.Token}
}

func (g *Gateway) emit(typ events.EventType, sess Session) {
	if g.eventBus == nil {
		return
	}
	payload := events.SessionPayload{
		Token:   sess.Token.String(),
		User:    sess.User.String(),
		Display: sess.Display,
	}
	if sess.Bound {
		id := uint8(sess.ConnID)
		payload.ConnID = &id
	}
	g.eventBus.Emit(context.Background(), events.Event{
		Type:    typ,
		Source:  "gateway",
		Payload: payload,
	})
}
