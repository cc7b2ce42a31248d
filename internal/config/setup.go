package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks an operator through the addresses and admin settings
// of a fresh install. tokenGen supplies the API token when the operator
// leaves it blank.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer, tokenGen func() (string, error)) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║           Courtyard - First Run Setup        ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	cfg.mu.Lock()

	fmt.Fprintln(out, "── Mesh ──")
	cfg.Relay.ListenAddr = promptString(reader, out, "Relay listen address", cfg.Relay.ListenAddr)
	cfg.Gateway.MeshAddr = promptString(reader, out, "Gateway mesh address", cfg.Relay.ListenAddr)
	cfg.Services.MeshAddr = promptString(reader, out, "Services mesh address", cfg.Gateway.MeshAddr)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Gateway ──")
	cfg.Gateway.PublicAddr = promptString(reader, out, "Public listen address", cfg.Gateway.PublicAddr)
	cfg.Gateway.SessionIdleTTLSec = promptInt(reader, out, "Unbound session TTL (seconds, 0 = never)", cfg.Gateway.SessionIdleTTLSec)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Admin API ──")
	cfg.API.Enabled = promptBool(reader, out, "Enable admin API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Addr = promptString(reader, out, "Admin API address", cfg.API.Addr)
		cfg.API.Token = promptString(reader, out, "Admin API token (blank to generate)", cfg.API.Token)
		if cfg.API.Token == "" && tokenGen != nil {
			token, err := tokenGen()
			if err != nil {
				cfg.mu.Unlock()
				return fmt.Errorf("failed to generate API token: %w", err)
			}
			cfg.API.Token = token
			fmt.Fprintf(out, "    Generated token: %s\n", token)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")
	cfg.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = promptString(reader, out, "Broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = promptInt(reader, out, "Broker port", cfg.MQTT.Port)
	}

	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved to", cfg.Path())
	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
