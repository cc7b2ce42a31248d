package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func expectCommand(t *testing.T, b *Buffer, want Command) {
	t.Helper()
	got, err := ReadCommand(b)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("command %s, want %s", got, want)
	}
}

func TestRegisterHello(t *testing.T) {
	b, err := BuildRegister(FlavorInventory)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b.Bytes(), []byte{2, 0, byte(CmdRegister), byte(FlavorInventory)}) {
		t.Fatalf("register wire %x", b.Bytes())
	}
	expectCommand(t, b, CmdRegister)
	f, err := ParseRegister(b)
	if err != nil || f != FlavorInventory {
		t.Fatalf("ParseRegister = %s, %v", f, err)
	}

	h, err := BuildHello(17)
	if err != nil {
		t.Fatal(err)
	}
	expectCommand(t, h, CmdHello)
	id, err := ParseHello(h)
	if err != nil || id != 17 {
		t.Fatalf("ParseHello = %d, %v", id, err)
	}
}

func TestForwardEnvelope(t *testing.T) {
	inner, err := BuildChat("ana", "gg")
	if err != nil {
		t.Fatal(err)
	}
	env, err := BuildForward(All(FlavorGateway), 0, inner)
	if err != nil {
		t.Fatal(err)
	}

	expectCommand(t, env, CmdForward)
	fwd, err := ParseForward(env)
	if err != nil {
		t.Fatal(err)
	}
	if fwd.Route != All(FlavorGateway) || fwd.Source != 0 {
		t.Fatalf("envelope route %s source %d", fwd.Route, fwd.Source)
	}
	if !bytes.Equal(fwd.Inner.Payload(), inner.Payload()) {
		t.Fatalf("inner %x, want %x", fwd.Inner.Payload(), inner.Payload())
	}

	expectCommand(t, fwd.Inner, CmdChat)
	line, err := ParseChat(fwd.Inner)
	if err != nil {
		t.Fatal(err)
	}
	if line.From != "ana" || line.Text != "gg" {
		t.Fatalf("chat %+v", line)
	}
}

func TestForwardRejectsEmptyInner(t *testing.T) {
	if _, err := BuildForward(Any(FlavorAuth), 0, NewBuffer(0)); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}

	env, err := Encode(CmdForward, One(3), ConnID(1))
	if err != nil {
		t.Fatal(err)
	}
	expectCommand(t, env, CmdForward)
	if _, err := ParseForward(env); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestAuthorizeExchange(t *testing.T) {
	session := NewToken()
	req := AuthorizeRequest{Requester: 5, Session: session, User: "ana", Password: "hunter2"}
	b, err := BuildAuthorizeRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	expectCommand(t, b, CmdAuthorize)
	gotReq, err := ParseAuthorizeRequest(b)
	if err != nil {
		t.Fatal(err)
	}
	if *gotReq != req {
		t.Fatalf("request %+v, want %+v", *gotReq, req)
	}

	grant := AuthorizeGrant{Requester: 5, Session: session, OK: true, User: NewToken(), Display: "Ana"}
	g, err := BuildAuthorizeGrant(grant)
	if err != nil {
		t.Fatal(err)
	}
	expectCommand(t, g, CmdAuthorize)
	gotGrant, err := ParseAuthorizeGrant(g)
	if err != nil {
		t.Fatal(err)
	}
	if *gotGrant != grant {
		t.Fatalf("grant %+v, want %+v", *gotGrant, grant)
	}
}

func TestUserFrameStripsHeader(t *testing.T) {
	h := GatewayHeader{ConnID: 9, User: NewToken(), Session: NewToken()}
	items := []Item{{Name: "shield", Quantity: 2}}
	b, err := BuildInventoryList(h, items)
	if err != nil {
		t.Fatal(err)
	}

	cmd, err := ReadCommand(b)
	if err != nil {
		t.Fatal(err)
	}
	if !cmd.UserAddressed() {
		t.Fatalf("%s should be user addressed", cmd)
	}
	gotHeader, err := ParseGatewayHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if gotHeader != h {
		t.Fatalf("header %+v, want %+v", gotHeader, h)
	}

	out, err := BuildUserFrame(cmd, b.Rest())
	if err != nil {
		t.Fatal(err)
	}
	expectCommand(t, out, CmdInventoryList)
	got, err := ParseInventoryList(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != items[0] {
		t.Fatalf("items %+v", got)
	}
}

func TestClientGameFrame(t *testing.T) {
	session := NewToken()
	b, err := BuildClientGame(session, GamePlay, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	expectCommand(t, b, CmdGame)
	g, err := ParseClientGame(b)
	if err != nil {
		t.Fatal(err)
	}
	if g.Session != session || g.Command != GamePlay || !bytes.Equal(g.Body, []byte{1, 2, 3}) {
		t.Fatalf("game frame %+v", g)
	}

	bad, err := Encode(CmdGame, session, U8(0x7F))
	if err != nil {
		t.Fatal(err)
	}
	expectCommand(t, bad, CmdGame)
	var ute *UnrecognizedTagError
	if _, err := ParseClientGame(bad); !errors.As(err, &ute) {
		t.Fatalf("expected UnrecognizedTagError, got %v", err)
	}
}
