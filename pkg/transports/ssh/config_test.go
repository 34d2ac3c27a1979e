package ssh

import (
	"testing"
	"time"
)

// TestDefaultConfig tests the key-auth defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("web1.example.com", "deploy")

	if cfg.Port != 22 {
		t.Errorf("expected port 22, got %d", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("expected key auth, got %s", cfg.AuthMethod)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("expected 30s connect timeout, got %s", cfg.ConnectTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

// TestConfigValidate tests the validation rules
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing host", func(c *Config) { c.Host = "" }, true},
		{"missing user", func(c *Config) { c.User = "" }, true},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"port out of range", func(c *Config) { c.Port = 70000 }, true},
		{"key auth without key", func(c *Config) { c.PrivateKeyPath = "" }, true},
		{"password auth without password", func(c *Config) {
			c.AuthMethod = AuthMethodPassword
			c.Password = ""
		}, true},
		{"password auth", func(c *Config) {
			c.AuthMethod = AuthMethodPassword
			c.Password = "hunter2"
		}, false},
		{"unknown auth method", func(c *Config) { c.AuthMethod = "kerberos" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("web1.example.com", "deploy")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// TestAddress tests the dial address format
func TestAddress(t *testing.T) {
	cfg := DefaultConfig("web1.example.com", "deploy")
	cfg.Port = 2222

	if got := cfg.Address(); got != "web1.example.com:2222" {
		t.Errorf("expected web1.example.com:2222, got %s", got)
	}
}
