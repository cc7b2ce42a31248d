// Package cli implements the operator console of a courtyard process. It
// reads one command per line and prints tables of sessions, connections
// and the mesh link of the running role.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/api"
	"github.com/courtyard-project/courtyard/internal/events"
	"github.com/courtyard-project/courtyard/internal/protocol"
)

// Console is the interactive command loop.
type Console struct {
	src      api.Sources
	eventBus *events.Bus
	in       io.Reader
	out      io.Writer
}

// NewConsole creates a console over in and out. eventBus may be nil.
func NewConsole(src api.Sources, eventBus *events.Bus, in io.Reader, out io.Writer) *Console {
	return &Console{
		src:      src,
		eventBus: eventBus,
		in:       in,
		out:      out,
	}
}

// Run reads commands until ctx is cancelled, the input ends, or the
// operator quits.
func (c *Console) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintf(c.out, "\nCourtyard %s console ready. Type 'help' for available commands.\n", c.src.Role)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "courtyard> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

func (c *Console) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "sessions", "s":
		return false, c.printSessions()
	case "connections", "conns", "c":
		return false, c.printConnections()
	case "mesh", "m":
		return false, c.printMesh()
	case "sweep":
		return false, c.cmdSweep()
	case "revoke":
		return false, c.cmdRevoke(args)
	case "loglevel":
		return false, c.cmdLogLevel(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down...")
		err := c.eventBus.EmitSync(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true, err
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *Console) printHelp() {
	tw := c.table("Command", "Description")
	tw.AppendBulk([][]string{
		{"sessions", "List gateway sessions"},
		{"connections", "List connections of every listener"},
		{"mesh", "Show the mesh link"},
		{"sweep", "Expire idle unbound sessions now"},
		{"revoke <token>", "Drop one session"},
		{"loglevel <level>", "Change the log level"},
		{"quit", "Shut the process down"},
	})
	tw.Render()
}

func (c *Console) printSessions() error {
	if c.src.Gateway == nil {
		return fmt.Errorf("%s has no session table", c.src.Role)
	}
	sessions := c.src.Gateway.Sessions().Snapshot()

	tw := c.table("Token", "User", "Display", "Conn", "Age", "Idle")
	now := time.Now()
	for _, sess := range sessions {
		conn, idle := "-", now.Sub(sess.UnboundSince).Truncate(time.Second).String()
		if sess.Bound {
			conn, idle = fmt.Sprintf("%d", sess.ConnID), "-"
		}
		tw.Append([]string{
			sess.Token.String(),
			sess.User.String(),
			sess.Display,
			conn,
			now.Sub(sess.CreatedAt).Truncate(time.Second).String(),
			idle,
		})
	}
	tw.SetFooter([]string{"", "", "", "", "Total", fmt.Sprintf("%d", len(sessions))})
	tw.Render()
	return nil
}

func (c *Console) printConnections() error {
	if len(c.src.Listeners) == 0 {
		return fmt.Errorf("%s has no listeners", c.src.Role)
	}

	tw := c.table("Listener", "ID", "Flavor", "Remote", "Connected", "Last Activity")
	now := time.Now()
	total := 0
	for _, srv := range c.src.Listeners {
		total += srv.Count()
		for _, info := range srv.Snapshot() {
			flavor := "-"
			if info.Registered {
				flavor = info.Flavor.String()
			}
			tw.Append([]string{
				srv.Name(),
				fmt.Sprintf("%d", info.ID),
				flavor,
				info.Remote,
				now.Sub(info.ConnectedAt).Truncate(time.Second).String(),
				now.Sub(info.LastActivity).Truncate(time.Second).String() + " ago",
			})
		}
	}
	tw.SetFooter([]string{"", "", "", "", "Total", fmt.Sprintf("%d", total)})
	tw.Render()
	return nil
}

func (c *Console) printMesh() error {
	if c.src.Mesh == nil {
		return fmt.Errorf("%s has no mesh link", c.src.Role)
	}
	id := "-"
	if assigned, ok := c.src.Mesh.ID(); ok {
		id = fmt.Sprintf("%d", assigned)
	}

	tw := c.table("Flavor", "Connected", "ID")
	tw.Append([]string{c.src.Mesh.Flavor().String(), fmt.Sprintf("%v", c.src.Mesh.Connected()), id})
	tw.Render()
	return nil
}

func (c *Console) cmdSweep() error {
	if c.src.Gateway == nil {
		return fmt.Errorf("%s has no session table", c.src.Role)
	}
	expired := c.src.Gateway.Sweep()
	fmt.Fprintf(c.out, "Expired %d sessions, %d remain\n", len(expired), c.src.Gateway.Sessions().Len())
	return nil
}

func (c *Console) cmdRevoke(args []string) error {
	if c.src.Gateway == nil {
		return fmt.Errorf("%s has no session table", c.src.Role)
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: revoke <token>")
	}
	token, err := protocol.ParseToken(args[0])
	if err != nil {
		return fmt.Errorf("invalid token: %s", args[0])
	}
	if !c.src.Gateway.Revoke(token) {
		return fmt.Errorf("no session %s", token)
	}
	fmt.Fprintf(c.out, "Revoked %s\n", token)
	return nil
}

func (c *Console) cmdLogLevel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: loglevel <debug|info|warn|error>")
	}
	level, err := zerolog.ParseLevel(strings.ToLower(args[0]))
	if err != nil || level == zerolog.NoLevel {
		return fmt.Errorf("unknown level: %s", args[0])
	}
	zerolog.SetGlobalLevel(level)
	log.Info().Str("level", level.String()).Msg("log level changed from console")

	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventConfigChanged,
		Source: "cli",
		Payload: events.ConfigChangedPayload{
			Section: "logging",
			Key:     "level",
			Value:   level.String(),
		},
	})
	fmt.Fprintf(c.out, "Log level set to %s\n", level)
	return nil
}

func (c *Console) table(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}
