package ssh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("15.126.0.1", "ubuntu", "/tmp/key")

	if config.Port != 22 {
		t.Errorf("expected port 22, got %d", config.Port)
	}
	if config.StrictHostKeyChecking {
		t.Error("host key checking should be off by default")
	}
	if config.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected connection timeout 30s, got %v", config.ConnectionTimeout)
	}
	if got := config.Address(); got != "15.126.0.1:22" {
		t.Errorf("Address() = %s", got)
	}
	config.Host = "::1"
	if got := config.Address(); got != "[::1]:22" {
		t.Errorf("Address() = %s", got)
	}
}

func TestConfigValidation(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(keyPath, []byte("key"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		modify   func(*Config)
		errorMsg string
	}{
		{name: "valid config", modify: func(c *Config) {}},
		{name: "missing host", modify: func(c *Config) { c.Host = "" }, errorMsg: "host is required"},
		{name: "invalid port", modify: func(c *Config) { c.Port = 70000 }, errorMsg: "invalid port"},
		{name: "missing user", modify: func(c *Config) { c.User = "" }, errorMsg: "user is required"},
		{name: "missing key path", modify: func(c *Config) { c.PrivateKeyPath = "" }, errorMsg: "private key path is required"},
		{name: "missing key file", modify: func(c *Config) { c.PrivateKeyPath += ".missing" }, errorMsg: "private key file not found"},
		{name: "strict without known hosts", modify: func(c *Config) { c.StrictHostKeyChecking = true }, errorMsg: "known hosts"},
		{name: "zero timeout", modify: func(c *Config) { c.CommandTimeout = 0 }, errorMsg: "command timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("example.com", "ubuntu", keyPath)
			tt.modify(config)
			err := config.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Validate() error = %v, want %q", err, tt.errorMsg)
			}
		})
	}
}

func TestClientConfigRejectsBadKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(keyPath, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := DefaultConfig("example.com", "ubuntu", keyPath).clientConfig(); err == nil {
		t.Error("clientConfig() should fail on an invalid key")
	}
}
