package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/courtyard-project/courtyard/internal/api"
	"github.com/courtyard-project/courtyard/internal/config"
	"github.com/courtyard-project/courtyard/internal/db"
	"github.com/courtyard-project/courtyard/internal/events"
	"github.com/courtyard-project/courtyard/internal/gateway"
	"github.com/courtyard-project/courtyard/internal/network"
	"github.com/courtyard-project/courtyard/internal/protocol"
	"github.com/courtyard-project/courtyard/internal/relay"
	"github.com/courtyard-project/courtyard/internal/scheduler"
	"github.com/courtyard-project/courtyard/internal/service"
	"github.com/courtyard-project/courtyard/internal/util"
)

// authWorkers bounds concurrent bcrypt checks on the auth service.
const authWorkers = 8

type role struct {
	run     func(ctx context.Context) error
	sources api.Sources
	close   func()
}

// applyArgs lets positional addresses override the config file for this
// run only.
func applyArgs(cfg *config.Config, name string, args []string) error {
	switch name {
	case "relay":
		if len(args) > 1 {
			return fmt.Errorf("usage: courtyard relay [listen-addr]")
		}
		if len(args) == 1 {
			r := cfg.GetRelay()
			r.ListenAddr = args[0]
			cfg.SetRelay(r)
		}
	case "gateway":
		if len(args) > 2 {
			return fmt.Errorf("usage: courtyard gateway [mesh-addr] [public-addr]")
		}
		g := cfg.GetGateway()
		if len(args) >= 1 {
			g.MeshAddr = args[0]
		}
		if len(args) == 2 {
			g.PublicAddr = args[1]
		}
		cfg.SetGateway(g)
	case "auth", "inventory", "chat":
		if len(args) > 1 {
			return fmt.Errorf("usage: courtyard %s [mesh-addr]", name)
		}
		if len(args) == 1 {
			s := cfg.GetServices()
			s.MeshAddr = args[0]
			cfg.SetServices(s)
		}
	case "useradd":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("usage: courtyard useradd <name> <password> [display-name]")
		}
	case "setup":
		if len(args) != 0 {
			return fmt.Errorf("usage: courtyard setup")
		}
	default:
		return fmt.Errorf("unknown role %q", name)
	}
	return nil
}

func buildRole(cfg *config.Config, name string, eventBus *events.Bus) (*role, error) {
	switch name {
	case "relay":
		r := relay.New(cfg.GetRelay().ListenAddr, eventBus)
		return &role{
			run:     r.Run,
			sources: api.Sources{Role: name, Listeners: []*network.Server{r.Server()}},
		}, nil

	case "gateway":
		gc := cfg.GetGateway()
		g := gateway.New(gateway.Config{
			MeshAddr:      gc.MeshAddr,
			PublicAddr:    gc.PublicAddr,
			Backoff:       gc.ReconnectBackoff(),
			SessionTTL:    gc.SessionIdleTTL(),
			SweepInterval: gc.SweepInterval(),
			RateLimit:     gc.RateLimitPerSec,
			RateBurst:     gc.RateBurst,
		}, eventBus)
		return &role{
			run: g.Run,
			sources: api.Sources{
				Role:      name,
				Listeners: []*network.Server{g.Public()},
				Mesh:      g.Mesh(),
				Gateway:   g,
			},
		}, nil

	case "auth", "inventory", "chat":
		sc := cfg.GetServices()
		store, err := db.OpenStore(sc.DatabasePath)
		if err != nil {
			return nil, err
		}

		var (
			flavor  protocol.Flavor
			handler service.Handler
			workers int
		)
		switch name {
		case "auth":
			flavor, handler, workers = protocol.FlavorAuth, service.Auth(store), authWorkers
		case "inventory":
			flavor, handler = protocol.FlavorInventory, service.Inventory(store)
		case "chat":
			flavor, handler = protocol.FlavorChat, service.Chat(store)
		}

		runner := service.NewRunner(service.Config{
			MeshAddr: sc.MeshAddr,
			Flavor:   flavor,
			Backoff:  sc.ReconnectBackoff(),
			Workers:  workers,
		}, handler, eventBus)
		run := runner.Run
		if name == "chat" && sc.ChatRetentionDays > 0 {
			sched := scheduler.New(scheduler.ChatRetention(store, sc.ChatRetentionDays, sc.ChatCleanupTime))
			run = func(ctx context.Context) error {
				group, ctx := errgroup.WithContext(ctx)
				group.Go(func() error { return sched.Run(ctx) })
				group.Go(func() error { return runner.Run(ctx) })
				return group.Wait()
			}
		}
		return &role{
			run:     run,
			sources: api.Sources{Role: name, Mesh: runner.Client()},
			close:   func() { store.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown role %q", name)
}

func addUser(cfg *config.Config, args []string) error {
	name, password := args[0], args[1]
	display := name
	if len(args) == 3 {
		display = args[2]
	}

	sc := cfg.GetServices()
	store, err := db.OpenStore(sc.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	hash, err := util.HashPassword(password, sc.BcryptCost)
	if err != nil {
		return err
	}
	acct, err := store.CreateAccount(context.Background(), name, display, hash)
	if err != nil {
		return err
	}

	log.Info().Str("name", acct.Name).Str("id", acct.ID.String()).Msg("account created")
	fmt.Printf("Created account %s (%s), display name %q\n", acct.Name, acct.ID, acct.Display)
	return nil
}
