package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks every section of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateGateway(&cfg.Gateway, result)
	validateAddr(cfg.Relay.ListenAddr, "relay.listen_addr", result)
	validateServices(&cfg.Services, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)

	return result
}

func validateGateway(g *GatewayConfig, result *ValidationResult) {
	validateAddr(g.MeshAddr, "gateway.mesh_addr", result)
	validateAddr(g.PublicAddr, "gateway.public_addr", result)

	if g.MeshAddr != "" && g.MeshAddr == g.PublicAddr {
		result.AddError("gateway.public_addr", "public and mesh addresses must differ")
	}

	if g.ReconnectBackoffSec < 1 {
		result.AddError("gateway.reconnect_backoff_sec", "backoff must be at least 1 second")
	}

	switch {
	case g.SessionIdleTTLSec < 0:
		result.AddError("gateway.session_idle_ttl_sec", "ttl cannot be negative")
	case g.SessionIdleTTLSec == 0:
		result.AddWarning("gateway.session_idle_ttl_sec",
			"unbound sessions are never swept, the session table grows without bound")
	}
	if g.SessionIdleTTLSec > 0 && g.SweepIntervalSec < 1 {
		result.AddError("gateway.sweep_interval_sec", "sweep interval must be at least 1 second")
	}

	if g.RateLimitPerSec < 0 {
		result.AddError("gateway.rate_limit_per_sec", "rate limit cannot be negative")
	} else if g.RateLimitPerSec == 0 {
		result.AddWarning("gateway.rate_limit_per_sec",
			"per-connection rate limit is disabled, a single client can flood the gateway")
	} else if g.RateBurst < 1 {
		result.AddError("gateway.rate_burst", "burst must be at least 1 when rate limiting is enabled")
	}
}

func validateServices(s *ServicesConfig, result *ValidationResult) {
	validateAddr(s.MeshAddr, "services.mesh_addr", result)

	if strings.TrimSpace(s.DatabasePath) == "" {
		result.AddError("services.database_path", "database path is required")
	}
	if s.ReconnectBackoffSec < 1 {
		result.AddError("services.reconnect_backoff_sec", "backoff must be at least 1 second")
	}
	if s.BcryptCost < 4 || s.BcryptCost > 31 {
		result.AddError("services.bcrypt_cost", fmt.Sprintf("bcrypt cost %d out of range 4-31", s.BcryptCost))
	}
	if s.ChatRetentionDays < 0 {
		result.AddError("services.chat_retention_days", "retention cannot be negative")
	}
	if s.ChatRetentionDays > 0 {
		if _, err := time.Parse("15:04", s.ChatCleanupTime); err != nil {
			result.AddError("services.chat_cleanup_time", fmt.Sprintf("cleanup time %q is not HH:MM", s.ChatCleanupTime))
		}
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validateAddr(a.Addr, "api.addr", result)

	if strings.TrimSpace(a.Token) == "" {
		result.AddWarning("api.token", "no API token set, monitor and control endpoints are open")
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddWarning("mqtt.topic_prefix", "empty topic prefix, events publish at the broker root")
	}
}

func validateAddr(addr, field string, result *ValidationResult) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid address %q: %v", addr, err))
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port in %q", addr))
		return
	}
	if port == 0 {
		result.AddWarning(field, "port 0 binds an ephemeral port")
	} else if port < 1024 && (host == "" || host == "0.0.0.0") {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
