// Package config handles configuration loading, validation, and persistence
// for every Courtyard role.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultRelayAddr  = "127.0.0.1:7000"
	DefaultPublicAddr = "0.0.0.0:7100"
	DefaultAPIAddr    = "127.0.0.1:5080"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Gateway  GatewayConfig  `json:"gateway"`
	Relay    RelayConfig    `json:"relay"`
	Services ServicesConfig `json:"services"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Logging  LoggingConfig  `json:"logging"`
}

// GatewayConfig configures the session gateway.
type GatewayConfig struct {
	MeshAddr   string `json:"mesh_addr"`
	PublicAddr string `json:"public_addr"`

	ReconnectBackoffSec int `json:"reconnect_backoff_sec"`
	SessionIdleTTLSec   int `json:"session_idle_ttl_sec"`
	SweepIntervalSec    int `json:"sweep_interval_sec"`

	// Per-connection inbound limit on the public listener. Zero disables it.
	RateLimitPerSec float64 `json:"rate_limit_per_sec"`
	RateBurst       int     `json:"rate_burst"`
}

// ReconnectBackoff returns the mesh redial interval.
func (g GatewayConfig) ReconnectBackoff() time.Duration {
	return time.Duration(g.ReconnectBackoffSec) * time.Second
}

// SessionIdleTTL returns how long a session may stay unbound.
func (g GatewayConfig) SessionIdleTTL() time.Duration {
	return time.Duration(g.SessionIdleTTLSec) * time.Second
}

// SweepInterval returns the session sweep period.
func (g GatewayConfig) SweepInterval() time.Duration {
	return time.Duration(g.SweepIntervalSec) * time.Second
}

// RelayConfig configures the mesh relay.
type RelayConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// ServicesConfig configures the reference services (auth, inventory, chat).
type ServicesConfig struct {
	MeshAddr            string `json:"mesh_addr"`
	DatabasePath        string `json:"database_path"`
	ReconnectBackoffSec int    `json:"reconnect_backoff_sec"`
	BcryptCost          int    `json:"bcrypt_cost"`

	// Chat history older than this is pruned daily at ChatCleanupTime
	// (HH:MM, local time). Zero keeps history forever.
	ChatRetentionDays int    `json:"chat_retention_days"`
	ChatCleanupTime   string `json:"chat_cleanup_time"`
}

// ReconnectBackoff returns the mesh redial interval.
func (s ServicesConfig) ReconnectBackoff() time.Duration {
	return time.Duration(s.ReconnectBackoffSec) * time.Second
}

// APIConfig configures the admin HTTP API.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			MeshAddr:            DefaultRelayAddr,
			PublicAddr:          DefaultPublicAddr,
			ReconnectBackoffSec: 5,
			SessionIdleTTLSec:   600,
			SweepIntervalSec:    60,
			RateLimitPerSec:     50,
			RateBurst:           100,
		},
		Relay: RelayConfig{
			ListenAddr: DefaultRelayAddr,
		},
		Services: ServicesConfig{
			MeshAddr:            DefaultRelayAddr,
			DatabasePath:        filepath.Join("data", "courtyard.db"),
			ReconnectBackoffSec: 5,
			BcryptCost:          10,
			ChatRetentionDays:   30,
			ChatCleanupTime:     "04:00",
		},
		API: APIConfig{
			Enabled:      true,
			Addr:         DefaultAPIAddr,
			RateLimitRPS: 50,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "courtyard",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Directory: "logs",
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults if
// it does not exist.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// persist fields added since the file was written
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetGateway returns a copy of the gateway section.
func (c *Config) GetGateway() GatewayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gateway
}

// SetGateway replaces the gateway section.
func (c *Config) SetGateway(g GatewayConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = g
}

// GetRelay returns a copy of the relay section.
func (c *Config) GetRelay() RelayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Relay
}

// SetRelay replaces the relay section.
func (c *Config) SetRelay(r RelayConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Relay = r
}

// GetServices returns a copy of the services section.
func (c *Config) GetServices() ServicesConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Services
}

// SetServices replaces the services section.
func (c *Config) SetServices(s ServicesConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Services = s
}

// GetAPI returns a copy of the API section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// SetAPI replaces the API section.
func (c *Config) SetAPI(a APIConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.API = a
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// SetLogging replaces the logging section.
func (c *Config) SetLogging(l LoggingConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logging = l
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun reports whether the admin API is enabled without a token,
// which the setup wizard fixes.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API.Enabled && c.API.Token == ""
}
