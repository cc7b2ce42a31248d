package relay

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/courtyard-project/courtyard/internal/protocol"
)

type peer struct {
	t    *testing.T
	conn net.Conn
	id   protocol.ConnID
}

func startRelay(t *testing.T) *Relay {
	t.Helper()
	r := New("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case <-r.Server().Ready():
	case err := <-done:
		t.Fatalf("relay failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not start")
	}
	return r
}

func dial(t *testing.T, r *Relay) *peer {
	t.Helper()
	conn, err := net.Dial("tcp", r.Server().Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func join(t *testing.T, r *Relay, flavor protocol.Flavor) *peer {
	t.Helper()
	p := dial(t, r)
	register, err := protocol.BuildRegister(flavor)
	if err != nil {
		t.Fatal(err)
	}
	p.send(register)
	hello := p.expect()
	if cmd, _ := protocol.ReadCommand(hello); cmd != protocol.CmdHello {
		t.Fatalf("expected hello, got %s", cmd)
	}
	if p.id, err = protocol.ParseHello(hello); err != nil {
		t.Fatal(err)
	}
	return p
}

func (p *peer) send(frame *protocol.Buffer) {
	p.t.Helper()
	if _, err := frame.WriteTo(p.conn); err != nil {
		p.t.Fatal(err)
	}
}

func (p *peer) expect() *protocol.Buffer {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.ReadBuffer(p.conn)
	if err != nil {
		p.t.Fatalf("expected a frame: %v", err)
	}
	return frame
}

func (p *peer) expectNothing() {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, err := protocol.ReadBuffer(p.conn)
	var netErr net.Error
	if err == nil || !errors.As(err, &netErr) || !netErr.Timeout() {
		p.t.Fatalf("expected silence, got %v", err)
	}
}

func (p *peer) expectClosed() {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := protocol.ReadBuffer(p.conn)
	var netErr net.Error
	if err == nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		p.t.Fatalf("expected the relay to drop the connection, got %v", err)
	}
}

func envelope(t *testing.T, route protocol.Route, source protocol.ConnID, text string) *protocol.Buffer {
	t.Helper()
	inner, err := protocol.BuildChat("relay-test", text)
	if err != nil {
		t.Fatal(err)
	}
	env, err := protocol.BuildForward(route, source, inner)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestForwardStampsSource(t *testing.T) {
	r := startRelay(t)
	auth := join(t, r, protocol.FlavorAuth)
	gate := join(t, r, protocol.FlavorGateway)

	// the claimed source is ignored
	gate.send(envelope(t, protocol.Any(protocol.FlavorAuth), 200, "hi"))

	frame := auth.expect()
	if cmd, _ := protocol.ReadCommand(frame); cmd != protocol.CmdForward {
		t.Fatalf("expected forward, got %s", cmd)
	}
	fwd, err := protocol.ParseForward(frame)
	if err != nil {
		t.Fatal(err)
	}
	if fwd.Source != gate.id {
		t.Fatalf("source %d, want %d", fwd.Source, gate.id)
	}
	if fwd.Route != protocol.Any(protocol.FlavorAuth) {
		t.Fatalf("route %s", fwd.Route)
	}
	if cmd, _ := protocol.ReadCommand(fwd.Inner); cmd != protocol.CmdChat {
		t.Fatalf("inner command %s", cmd)
	}
	line, err := protocol.ParseChat(fwd.Inner)
	if err != nil || line.Text != "hi" {
		t.Fatalf("inner chat %+v (%v)", line, err)
	}

	gate.expectNothing()
}

func TestReplyByConnectionID(t *testing.T) {
	r := startRelay(t)
	auth := join(t, r, protocol.FlavorAuth)
	gate := join(t, r, protocol.FlavorGateway)
	other := join(t, r, protocol.FlavorGateway)

	auth.send(envelope(t, protocol.One(gate.id), 0, "grant"))

	fwd, err := protocol.ParseForward(skipCommand(t, gate.expect()))
	if err != nil {
		t.Fatal(err)
	}
	if fwd.Source != auth.id {
		t.Fatalf("source %d, want %d", fwd.Source, auth.id)
	}
	other.expectNothing()
}

func TestBroadcastToFlavor(t *testing.T) {
	r := startRelay(t)
	chat := join(t, r, protocol.FlavorChat)
	gates := []*peer{
		join(t, r, protocol.FlavorGateway),
		join(t, r, protocol.FlavorGateway),
	}

	chat.send(envelope(t, protocol.All(protocol.FlavorGateway), 0, "everyone"))
	for _, g := range gates {
		g.expect()
	}
	chat.expectNothing()
}

func TestLocalRouteStaysInRelay(t *testing.T) {
	r := startRelay(t)
	a := join(t, r, protocol.FlavorAuth)
	b := join(t, r, protocol.FlavorGateway)

	a.send(envelope(t, protocol.Local(), 0, "to the relay"))
	a.expectNothing()
	b.expectNothing()
}

func TestProtocolViolations(t *testing.T) {
	r := startRelay(t)

	t.Run("unregistered", func(t *testing.T) {
		p := dial(t, r)
		p.send(envelope(t, protocol.All(protocol.FlavorAuth), 0, "sneaky"))
		p.expectClosed()
	})

	t.Run("bare command", func(t *testing.T) {
		p := join(t, r, protocol.FlavorChat)
		chat, err := protocol.BuildChat("x", "y")
		if err != nil {
			t.Fatal(err)
		}
		p.send(chat)
		p.expectClosed()
	})

	t.Run("unknown route", func(t *testing.T) {
		p := join(t, r, protocol.FlavorChat)
		frame, err := protocol.BufferFromPayload([]byte{byte(protocol.CmdForward), 0x09, 0x00, byte(protocol.CmdChat)})
		if err != nil {
			t.Fatal(err)
		}
		p.send(frame)
		p.expectClosed()
	})
}

func skipCommand(t *testing.T, frame *protocol.Buffer) *protocol.Buffer {
	t.Helper()
	if _, err := protocol.ReadCommand(frame); err != nil {
		t.Fatal(err)
	}
	return frame
}
