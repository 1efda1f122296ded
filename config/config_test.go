// Copyright (c) 2024 The digstore developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/dignetwork/digstore-go/peersync"
)

// ---------------------------------------------------------------------------
// DefaultConfig tests
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ListenAddr", cfg.ListenAddr, ":4159"},
		{"Network", cfg.Network, "mainnet"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"PeerSampleSize", cfg.PeerSampleSize, 10},
		{"RetryAttempts", cfg.RetryAttempts, 5},
		{"RetryInitialDelay", cfg.RetryInitialDelay, 2 * time.Second},
		{"RetryMultiplier", cfg.RetryMultiplier, 1.5},
		{"RetryMaxDelay", cfg.RetryMaxDelay, 10 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %v, want %v", tc.got, tc.want)
			}
		})
	}

	if !strings.HasSuffix(cfg.DataDir, ".digstore") {
		t.Errorf("DataDir = %q, want suffix .digstore", cfg.DataDir)
	}
}

func TestConfigRetryPolicy(t *testing.T) {
	got := DefaultConfig().RetryPolicy()
	if got != peersync.DefaultRetryPolicy() {
		t.Errorf("RetryPolicy() = %+v, want %+v", got, peersync.DefaultRetryPolicy())
	}
}

func TestConfigRPC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = "testnet"
	cfg.RPCURL = "http://node:9257"
	rpc := cfg.RPC()
	if rpc.URL != cfg.RPCURL || rpc.Network != "testnet" {
		t.Errorf("RPC() = %+v", rpc)
	}
}

// ---------------------------------------------------------------------------
// SaveConfig / LoadConfig round-trip tests
// ---------------------------------------------------------------------------

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	original := DefaultConfig()
	original.DataDir = "/tmp/test-digstore"
	original.ListenAddr = ":9000"
	original.PublicAddr = "node.example.com:4159"
	original.Network = "testnet"
	original.LogLevel = "debug"
	original.LogFile = "/tmp/digstore.log"
	original.PeerSampleSize = 3
	original.RetryAttempts = 7
	original.RetryInitialDelay = 500 * time.Millisecond
	original.RetryMultiplier = 2
	original.RetryMaxDelay = time.Minute
	original.DNSSeed = "seed.example.com"
	original.AuthUser = "admin"
	original.Writers = []string{"02aa", "03bb"}
	original.NonceSecret = "s3cret"

	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"DataDir", loaded.DataDir, original.DataDir},
		{"ListenAddr", loaded.ListenAddr, original.ListenAddr},
		{"PublicAddr", loaded.PublicAddr, original.PublicAddr},
		{"Network", loaded.Network, original.Network},
		{"LogLevel", loaded.LogLevel, original.LogLevel},
		{"LogFile", loaded.LogFile, original.LogFile},
		{"PeerSampleSize", loaded.PeerSampleSize, original.PeerSampleSize},
		{"RetryAttempts", loaded.RetryAttempts, original.RetryAttempts},
		{"RetryInitialDelay", loaded.RetryInitialDelay, original.RetryInitialDelay},
		{"RetryMultiplier", loaded.RetryMultiplier, original.RetryMultiplier},
		{"RetryMaxDelay", loaded.RetryMaxDelay, original.RetryMaxDelay},
		{"DNSSeed", loaded.DNSSeed, original.DNSSeed},
		{"AuthUser", loaded.AuthUser, original.AuthUser},
		{"Writers", strings.Join(loaded.Writers, ","), "02aa,03bb"},
		{"NonceSecret", loaded.NonceSecret, original.NonceSecret},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %v, want %v", tc.got, tc.want)
			}
		})
	}
}

func TestSaveConfigCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config")

	if err := SaveConfig(path, DefaultConfig()); err != nil {
		t.Fatalf("SaveConfig should create parent dirs: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config file not created: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

// ---------------------------------------------------------------------------
// LoadConfig tests
// ---------------------------------------------------------------------------

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config")
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("LoadConfig nonexistent: got %v, want ErrConfigNotFound", err)
	}
}

func TestLoadConfigInvalidLine(t *testing.T) {
	for _, content := range []string{"this-is-not-key-value\n", "= value\n"} {
		_, err := LoadConfig(writeConfig(t, content))
		if !errors.Is(err, ErrInvalidConfigLine) {
			t.Errorf("LoadConfig(%q): got %v, want ErrInvalidConfigLine", content, err)
		}
	}
}

func TestLoadConfigInvalidValue(t *testing.T) {
	for _, content := range []string{
		"peersamplesize = many\n",
		"retryinitialdelay = 2\n",
		"retrymultiplier = x1.5\n",
	} {
		_, err := LoadConfig(writeConfig(t, content))
		if !errors.Is(err, ErrInvalidConfigValue) {
			t.Errorf("LoadConfig(%q): got %v, want ErrInvalidConfigValue", content, err)
		}
	}
}

func TestLoadConfigCommentsAndBlanks(t *testing.T) {
	path := writeConfig(t, `# This is a comment
network = testnet

# Another comment
LogLevel = debug
retrymaxdelay = 30s
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Network != "testnet" {
		t.Errorf("Network = %q, want %q", cfg.Network, "testnet")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.RetryMaxDelay != 30*time.Second {
		t.Errorf("RetryMaxDelay = %v, want 30s", cfg.RetryMaxDelay)
	}
	// Unset fields keep their defaults.
	if cfg.ListenAddr != ":4159" {
		t.Errorf("ListenAddr = %q, want default %q", cfg.ListenAddr, ":4159")
	}
}

func TestLoadConfigUnknownKeysIgnored(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "futurekey = futurevalue\nnetwork = testnet\n"))
	if err != nil {
		t.Fatalf("LoadConfig with unknown key: %v", err)
	}
	if cfg.Network != "testnet" {
		t.Errorf("Network = %q, want %q", cfg.Network, "testnet")
	}
}

func TestLoadConfig_MultipleEquals(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "logfile=/tmp/a=b.log\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogFile != "/tmp/a=b.log" {
		t.Errorf("LogFile = %q, want %q", cfg.LogFile, "/tmp/a=b.log")
	}
}

func TestLoadConfig_WritersList(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "writers = 02aa, ,03bb ,\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := strings.Join(cfg.Writers, "|"); got != "02aa|03bb" {
		t.Errorf("Writers = %q, want 02aa|03bb", got)
	}
}

func TestLoadConfig_PermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission test not reliable on Windows")
	}
	if os.Getuid() == 0 {
		t.Skip("cannot test permission denial as root")
	}

	path := writeConfig(t, "network=testnet\n")
	if err := os.Chmod(path, 0000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(path, 0600) })

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig on unreadable file: expected error, got nil")
	}
	if errors.Is(err, ErrConfigNotFound) {
		t.Error("LoadConfig on unreadable file should not return ErrConfigNotFound")
	}
}

// ---------------------------------------------------------------------------
// ValidateConfig tests
// ---------------------------------------------------------------------------

func TestValidateConfigDefaults(t *testing.T) {
	if err := ValidateConfig(DefaultConfig()); err != nil {
		t.Errorf("ValidateConfig(DefaultConfig()) = %v, want nil", err)
	}
}

func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"empty_datadir", func(c *Config) { c.DataDir = "" }, ErrEmptyDataDir},
		{"bad_network", func(c *Config) { c.Network = "devnet" }, ErrInvalidNetwork},
		{"empty_network", func(c *Config) { c.Network = "" }, ErrInvalidNetwork},
		{"bad_listen_addr", func(c *Config) { c.ListenAddr = "not-a-valid-addr" }, ErrInvalidListenAddr},
		{"empty_listen_addr", func(c *Config) { c.ListenAddr = "" }, ErrInvalidListenAddr},
		{"bad_loglevel", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidLogLevel},
		{"zero_sample", func(c *Config) { c.PeerSampleSize = 0 }, ErrInvalidSampleSize},
		{"zero_attempts", func(c *Config) { c.RetryAttempts = 0 }, ErrInvalidRetryPolicy},
		{"zero_delay", func(c *Config) { c.RetryInitialDelay = 0 }, ErrInvalidRetryPolicy},
		{"max_below_initial", func(c *Config) { c.RetryMaxDelay = time.Second }, ErrInvalidRetryPolicy},
		{"shrinking_multiplier", func(c *Config) { c.RetryMultiplier = 0.5 }, ErrInvalidRetryPolicy},
		{"zero_cache_ttl", func(c *Config) { c.PeerCacheTTL = 0 }, ErrInvalidDuration},
		{"negative_absence_ttl", func(c *Config) { c.AbsenceTTL = -time.Second }, ErrInvalidDuration},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := ValidateConfig(cfg)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateConfig: got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateConfigValidNetworks(t *testing.T) {
	for _, network := range []string{"mainnet", "testnet", "simulator"} {
		cfg := DefaultConfig()
		cfg.Network = network
		if err := ValidateConfig(cfg); err != nil {
			t.Errorf("ValidateConfig with network %q: %v", network, err)
		}
	}
}

func TestValidateConfig_LogLevelCaseInsensitive(t *testing.T) {
	for _, level := range []string{"INFO", "Debug", "WARN", "Error", "dEbUg"} {
		t.Run(level, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LogLevel = level
			if err := ValidateConfig(cfg); err != nil {
				t.Errorf("ValidateConfig with LogLevel %q: %v", level, err)
			}
		})
	}
}

func TestValidateConfig_ValidListenAddrVariants(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:80", "0.0.0.0:443", ":4159", "localhost:3000", "[::1]:8080"} {
		t.Run(addr, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ListenAddr = addr
			if err := ValidateConfig(cfg); err != nil {
				t.Errorf("ValidateConfig with ListenAddr %q: %v", addr, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ConfigPath tests
// ---------------------------------------------------------------------------

func TestConfigPath(t *testing.T) {
	for in, want := range map[string]string{
		"/home/user/.digstore": filepath.Join("/home/user/.digstore", "config"),
		"/foo/":                filepath.Join("/foo", "config"),
	} {
		if got := ConfigPath(in); got != want {
			t.Errorf("ConfigPath(%q) = %q, want %q", in, got, want)
		}
	}
}
