// Courtyard - game service fabric.
//
// One binary, several roles: a relay forwarding frames between mesh
// services, a gateway holding client sessions in front of the mesh, and
// reference auth, inventory and chat services. Every role can expose the
// admin REST API, an operator console and MQTT telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/courtyard-project/courtyard/internal/api"
	"github.com/courtyard-project/courtyard/internal/cli"
	"github.com/courtyard-project/courtyard/internal/config"
	"github.com/courtyard-project/courtyard/internal/events"
	"github.com/courtyard-project/courtyard/internal/network"
	"github.com/courtyard-project/courtyard/internal/telemetry"
	"github.com/courtyard-project/courtyard/internal/util"
)

const (
	AppName    = "Courtyard"
	AppVersion = api.Version
)

const usageText = `usage: courtyard [flags] <role> [args]

roles:
  relay    [listen-addr]
  gateway  [mesh-addr] [public-addr]
  auth     [mesh-addr]
  inventory [mesh-addr]
  chat     [mesh-addr]
  useradd  <name> <password> [display-name]
  setup

flags:
`

func main() {
	fs := flag.NewFlagSet("courtyard", flag.ExitOnError)
	configDir := fs.String("config", config.DefaultConfigDir, "configuration directory")
	console := fs.Bool("console", stdinIsTerminal(), "read operator commands from stdin")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usageText)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	if err := run(fs.Arg(0), fs.Args()[1:], *configDir, *console); err != nil {
		fmt.Fprintf(os.Stderr, "courtyard: %v\n", err)
		os.Exit(1)
	}
}

func run(role string, args []string, configDir string, console bool) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := applyArgs(cfg, role, args); err != nil {
		return err
	}

	logCfg := util.DefaultLogConfig()
	logCfg.Level = cfg.GetLogging().Level
	logCfg.Directory = cfg.GetLogging().Directory
	logCfg.Role = role
	logFile, err := util.InitLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	switch role {
	case "setup":
		return config.RunSetupWizard(cfg, os.Stdin, os.Stdout, util.GenerateAPIToken)
	case "useradd":
		return addUser(cfg, args)
	}

	log.Info().
		Str("role", role).
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting " + AppName)

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, fix the errors above or run 'courtyard setup'")
	}
	if cfg.IsFirstRun() {
		log.Warn().Msg("admin API has no token, protected endpoints stay locked until 'courtyard setup' is run")
	}

	host := util.GetHostInfo()
	log.Info().
		Str("hostname", host.Hostname).
		Str("os", host.OS).
		Str("cpu", host.CPUModel).
		Int("cores", host.CPUCores).
		Uint64("memory_mb", host.TotalMemory).
		Msg("system information")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewBus()
	defer eventBus.Stop()
	watchEvents(eventBus, cfg, stop)

	r, err := buildRole(cfg, role, eventBus)
	if err != nil {
		return err
	}
	if r.close != nil {
		defer r.close()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return r.run(ctx) })

	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		apiServer := api.NewServer(apiCfg, r.sources)
		group.Go(func() error {
			if err := apiServer.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("admin API failed (non-fatal)")
			}
			return nil
		})
	}

	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		publisher, err := telemetry.NewPublisher(mqttCfg, role, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			group.Go(func() error {
				if err := publisher.Run(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed (non-fatal)")
				}
				return nil
			})
		}
	}

	if console {
		group.Go(func() error {
			cli.NewConsole(r.sources, eventBus, os.Stdin, os.Stdout).Run(ctx)
			return nil
		})
	}

	err = group.Wait()
	switch {
	case err == nil, errors.Is(err, network.ErrInterrupted):
		log.Info().Msg(AppName + " stopped")
		return nil
	case errors.Is(err, network.ErrShutdown):
		log.Info().Msg(AppName + " shut down by peer")
		return nil
	default:
		return err
	}
}

// watchEvents hooks the process into its own bus: a shutdown event stops
// the process, a console log level change is persisted, and every fabric
// event is written to the debug log.
func watchEvents(eventBus *events.Bus, cfg *config.Config, stop context.CancelFunc) {
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(_ context.Context, e events.Event) error {
		log.Info().Str("source", e.Source).Msg("shutdown requested")
		stop()
		return nil
	})

	eventBus.Subscribe(events.EventConfigChanged, "main.config", func(_ context.Context, e events.Event) error {
		change, ok := e.Payload.(events.ConfigChangedPayload)
		if !ok || change.Section != "logging" || change.Key != "level" {
			return nil
		}
		logging := cfg.GetLogging()
		logging.Level = fmt.Sprint(change.Value)
		cfg.SetLogging(logging)
		return cfg.Save()
	})

	eventBus.SubscribeAll([]events.EventType{
		events.EventConnectionAccepted,
		events.EventConnectionRegistered,
		events.EventConnectionClosed,
		events.EventLinkUp,
		events.EventLinkDown,
		events.EventSessionAuthorized,
		events.EventSessionBound,
		events.EventSessionUnbound,
		events.EventSessionExpired,
	}, "main.eventlog", func(_ context.Context, e events.Event) error {
		log.Debug().
			Str("event", string(e.Type)).
			Str("source", e.Source).
			Interface("payload", e.Payload).
			Msg("fabric event")
		return nil
	})
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
