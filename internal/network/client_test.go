package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/courtyard-project/courtyard/internal/protocol"
)

// acceptRegistration accepts one socket on l and checks that its first
// frame registers flavor.
func acceptRegistration(t *testing.T, l net.Listener, flavor protocol.Flavor) net.Conn {
	t.Helper()
	l.(*net.TCPListener).SetDeadline(time.Now().Add(3 * time.Second))
	conn, err := l.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.ReadBuffer(conn)
	if err != nil {
		t.Fatalf("read registration: %v", err)
	}
	cmd, err := protocol.ReadCommand(frame)
	if err != nil || cmd != protocol.CmdRegister {
		t.Fatalf("first frame %s (%v), want register", cmd, err)
	}
	got, err := protocol.ParseRegister(frame)
	if err != nil || got != flavor {
		t.Fatalf("registered %s (%v), want %s", got, err, flavor)
	}
	return conn
}

func writeFrame(t *testing.T, conn net.Conn, frame *protocol.Buffer, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := frame.WriteTo(conn); err != nil {
		t.Fatal(err)
	}
}

func TestClientRegistersAndReconnects(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	received := make(chan string, 4)
	client := NewClient(ClientConfig{
		Addr:    l.Addr().String(),
		Flavor:  protocol.FlavorInventory,
		Backoff: 20 * time.Millisecond,
	}, ClientProcessorFunc(func(frame *protocol.Buffer) Verdict {
		if cmd, _ := protocol.ReadCommand(frame); cmd == protocol.CmdChat {
			line, _ := protocol.ParseChat(frame)
			received <- line.Text
		}
		return Continue
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	first := acceptRegistration(t, l, protocol.FlavorInventory)
	hello, err := protocol.BuildHello(7)
	writeFrame(t, first, hello, err)

	select {
	case <-client.Assigned():
	case <-time.After(2 * time.Second):
		t.Fatal("hello not recorded")
	}
	if id, ok := client.ID(); !ok || id != 7 {
		t.Fatalf("ID() = %d, %v", id, ok)
	}

	// the peer goes away; the client must come back on its own
	first.Close()

	second := acceptRegistration(t, l, protocol.FlavorInventory)
	defer second.Close()
	hello, err = protocol.BuildHello(9)
	writeFrame(t, second, hello, err)
	chat, err := protocol.BuildChat("srv", "after reconnect")
	writeFrame(t, second, chat, err)

	select {
	case text := <-received:
		if text != "after reconnect" {
			t.Fatalf("received %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered after reconnect")
	}
	if id, _ := client.ID(); id != 9 {
		t.Fatalf("ID() after reconnect = %d, want 9", id)
	}

	out, err := protocol.BuildChat("cli", "outbound")
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Send(out); err != nil {
		t.Fatal(err)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.ReadBuffer(second)
	if err != nil {
		t.Fatal(err)
	}
	cmd, _ := protocol.ReadCommand(frame)
	if cmd != protocol.CmdChat {
		t.Fatalf("server got %s", cmd)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("Run returned %v, want ErrInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClientRetriesUntilPeerAppears(t *testing.T) {
	// reserve a port, then free it so the first dials fail
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	client := NewClient(ClientConfig{
		Addr:    addr,
		Flavor:  protocol.FlavorChat,
		Backoff: 30 * time.Millisecond,
	}, ClientProcessorFunc(func(*protocol.Buffer) Verdict { return Continue }), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if client.Connected() {
		t.Fatal("connected to a closed port")
	}

	l, err = net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("port %s taken in the meantime: %v", addr, err)
	}
	defer l.Close()

	conn := acceptRegistration(t, l, protocol.FlavorChat)
	conn.Close()
}

func TestClientShutdownVerdict(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	client := NewClient(ClientConfig{
		Addr:    l.Addr().String(),
		Flavor:  protocol.FlavorGame,
		Backoff: 20 * time.Millisecond,
	}, ClientProcessorFunc(func(*protocol.Buffer) Verdict { return Shutdown }), nil)

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()

	conn := acceptRegistration(t, l, protocol.FlavorGame)
	defer conn.Close()
	chat, err := protocol.BuildChat("srv", "stop")
	writeFrame(t, conn, chat, err)

	select {
	case err := <-done:
		if !errors.Is(err, ErrShutdown) {
			t.Fatalf("Run returned %v, want ErrShutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not shut down")
	}
}

func TestClientDisconnectVerdictRedials(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	client := NewClient(ClientConfig{
		Addr:    l.Addr().String(),
		Flavor:  protocol.FlavorAuth,
		Backoff: 20 * time.Millisecond,
	}, ClientProcessorFunc(func(*protocol.Buffer) Verdict { return Disconnect }), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	first := acceptRegistration(t, l, protocol.FlavorAuth)
	defer first.Close()
	chat, err := protocol.BuildChat("srv", "go away")
	writeFrame(t, first, chat, err)

	second := acceptRegistration(t, l, protocol.FlavorAuth)
	second.Close()
}

func TestClientSendQueueFull(t *testing.T) {
	client := NewClient(ClientConfig{Addr: "127.0.0.1:1", Flavor: protocol.FlavorChat, QueueSize: 1},
		ClientProcessorFunc(func(*protocol.Buffer) Verdict { return Continue }), nil)

	frame, err := protocol.BuildChat("a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Send(frame); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := client.Send(frame); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestClientBacksOffAfterDroppedSocket(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	dials := make(chan struct{}, 64)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
			select {
			case dials <- struct{}{}:
			default:
			}
		}
	}()

	client := NewClient(ClientConfig{
		Addr:    l.Addr().String(),
		Flavor:  protocol.FlavorChat,
		Backoff: 300 * time.Millisecond,
	}, ClientProcessorFunc(func(*protocol.Buffer) Verdict { return Continue }), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Run(ctx); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Run returned %v", err)
	}

	// one dial at once and at most one more after the backoff
	if n := len(dials); n < 1 || n > 2 {
		t.Fatalf("%d dials within 500ms at a 300ms backoff", n)
	}
}
