package main

import (
	"path/filepath"
	"testing"

	"github.com/courtyard-project/courtyard/internal/config"
	"github.com/courtyard-project/courtyard/internal/events"
)

func TestApplyArgs(t *testing.T) {
	tests := []struct {
		role    string
		args    []string
		wantErr bool
		check   func(*config.Config) bool
	}{
		{"relay", []string{"127.0.0.1:9000"}, false, func(c *config.Config) bool {
			return c.GetRelay().ListenAddr == "127.0.0.1:9000"
		}},
		{"gateway", []string{"10.0.0.1:7000", "0.0.0.0:9100"}, false, func(c *config.Config) bool {
			g := c.GetGateway()
			return g.MeshAddr == "10.0.0.1:7000" && g.PublicAddr == "0.0.0.0:9100"
		}},
		{"gateway", []string{"10.0.0.1:7000"}, false, func(c *config.Config) bool {
			return c.GetGateway().PublicAddr == config.DefaultPublicAddr
		}},
		{"chat", []string{"10.0.0.2:7000"}, false, func(c *config.Config) bool {
			return c.GetServices().MeshAddr == "10.0.0.2:7000"
		}},
		{"auth", nil, false, func(c *config.Config) bool {
			return c.GetServices().MeshAddr == config.DefaultRelayAddr
		}},
		{"relay", []string{"a", "b"}, true, nil},
		{"inventory", []string{"a", "b"}, true, nil},
		{"useradd", []string{"alice"}, true, nil},
		{"useradd", []string{"alice", "pw", "Alice"}, false, nil},
		{"setup", []string{"x"}, true, nil},
		{"juggler", nil, true, nil},
	}
	for _, tt := range tests {
		cfg := config.DefaultConfig()
		err := applyArgs(cfg, tt.role, tt.args)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s %v: err = %v", tt.role, tt.args, err)
		}
		if tt.check != nil && !tt.check(cfg) {
			t.Fatalf("%s %v: overrides not applied", tt.role, tt.args)
		}
	}
}

func TestBuildRoleSources(t *testing.T) {
	cfg := config.DefaultConfig()
	svc := cfg.GetServices()
	svc.DatabasePath = filepath.Join(t.TempDir(), "roles.db")
	cfg.SetServices(svc)

	for _, name := range []string{"relay", "gateway", "auth", "inventory", "chat"} {
		r, err := buildRole(cfg, name, events.NewBus())
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if r.sources.Role != name || r.run == nil {
			t.Fatalf("%s: %+v", name, r.sources)
		}
		switch name {
		case "relay":
			if len(r.sources.Listeners) != 1 || r.sources.Mesh != nil {
				t.Fatalf("relay sources %+v", r.sources)
			}
		case "gateway":
			if r.sources.Gateway == nil || r.sources.Mesh == nil || len(r.sources.Listeners) != 1 {
				t.Fatalf("gateway sources %+v", r.sources)
			}
		default:
			if r.sources.Mesh == nil || r.sources.Mesh.Flavor().String() != name {
				t.Fatalf("%s sources %+v", name, r.sources)
			}
			r.close()
		}
	}

	if _, err := buildRole(cfg, "useradd", nil); err == nil {
		t.Fatal("useradd is not a long-running role")
	}
}
