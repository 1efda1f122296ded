// Copyright (c) 2024 The digstore developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads and saves node configuration in a line-oriented
// key = value file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dignetwork/digstore-go/network"
	"github.com/dignetwork/digstore-go/peersync"
)

// configFileName is the name of the file inside the data directory.
const configFileName = "config"

// Config holds the node settings.
type Config struct {
	DataDir    string
	ListenAddr string
	// PublicAddr is the address other peers reach this node at. It is
	// excluded from the peers this node syncs from.
	PublicAddr string
	Network    string
	LogLevel   string
	LogFile    string

	PeerSampleSize    int
	RetryAttempts     int
	RetryInitialDelay time.Duration
	RetryMultiplier   float64
	RetryMaxDelay     time.Duration
	PeerCacheTTL      time.Duration
	AbsenceTTL        time.Duration
	DNSSeed           string

	RPCURL      string
	RPCUser     string
	RPCPassword string

	// Upload access for the peer server.
	AuthUser         string
	AuthPasswordHash string
	Writers          []string
	NonceSecret      string
}

// DefaultDataDir returns ~/.digstore, or .digstore when the home directory
// is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".digstore"
	}
	return filepath.Join(home, ".digstore")
}

// ConfigPath returns the config file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	rp := peersync.DefaultRetryPolicy()
	return Config{
		DataDir:           DefaultDataDir(),
		ListenAddr:        ":4159",
		Network:           "mainnet",
		LogLevel:          "info",
		PeerSampleSize:    peersync.DefaultSampleSize,
		RetryAttempts:     rp.Attempts,
		RetryInitialDelay: rp.InitialDelay,
		RetryMultiplier:   rp.Multiplier,
		RetryMaxDelay:     rp.MaxDelay,
		PeerCacheTTL:      network.DefaultPeerCacheTTL,
		AbsenceTTL:        peersync.DefaultAbsenceTTL,
	}
}

// RetryPolicy returns the download and upload retry settings.
func (c Config) RetryPolicy() peersync.RetryPolicy {
	return peersync.RetryPolicy{
		Attempts:     c.RetryAttempts,
		InitialDelay: c.RetryInitialDelay,
		Multiplier:   c.RetryMultiplier,
		MaxDelay:     c.RetryMaxDelay,
	}
}

// RPC returns the ledger node settings given in the file. Use
// network.ResolveConfig to merge them with flags and the environment.
func (c Config) RPC() *network.RPCConfig {
	return &network.RPCConfig{URL: c.RPCURL, User: c.RPCUser, Password: c.RPCPassword, Network: c.Network}
}

// LoadConfig reads path on top of DefaultConfig. Unknown keys are ignored
// so that newer files load in older builds.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, err := parseKeyValue(line)
		if err != nil {
			return cfg, fmt.Errorf("%w: line %d: %q", ErrInvalidConfigLine, lineNo, line)
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

// parseKeyValue splits on the first '='.
func parseKeyValue(line string) (string, string, error) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", ErrInvalidConfigLine
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", "", ErrInvalidConfigLine
	}
	return key, strings.TrimSpace(value), nil
}

func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "datadir":
		c.DataDir = value
	case "listen":
		c.ListenAddr = value
	case "publicaddr":
		c.PublicAddr = value
	case "network":
		c.Network = value
	case "loglevel":
		c.LogLevel = value
	case "logfile":
		c.LogFile = value
	case "peersamplesize":
		c.PeerSampleSize, err = strconv.Atoi(value)
	case "retryattempts":
		c.RetryAttempts, err = strconv.Atoi(value)
	case "retryinitialdelay":
		c.RetryInitialDelay, err = time.ParseDuration(value)
	case "retrymultiplier":
		c.RetryMultiplier, err = strconv.ParseFloat(value, 64)
	case "retrymaxdelay":
		c.RetryMaxDelay, err = time.ParseDuration(value)
	case "peercachettl":
		c.PeerCacheTTL, err = time.ParseDuration(value)
	case "absencettl":
		c.AbsenceTTL, err = time.ParseDuration(value)
	case "dnsseed":
		c.DNSSeed = value
	case "rpcurl":
		c.RPCURL = value
	case "rpcuser":
		c.RPCUser = value
	case "rpcpassword":
		c.RPCPassword = value
	case "authuser":
		c.AuthUser = value
	case "authpasswordhash":
		c.AuthPasswordHash = value
	case "writers":
		c.Writers = splitList(value)
	case "noncesecret":
		c.NonceSecret = value
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfigValue, key, err)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SaveConfig writes cfg to path, creating parent directories. The file may
// hold secrets and is created with mode 0600.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# digstore configuration\n\n")
	w := func(key, value string) {
		fmt.Fprintf(&b, "%s = %s\n", key, value)
	}
	w("datadir", cfg.DataDir)
	w("listen", cfg.ListenAddr)
	w("publicaddr", cfg.PublicAddr)
	w("network", cfg.Network)
	w("loglevel", cfg.LogLevel)
	w("logfile", cfg.LogFile)

	b.WriteString("\n# Sync\n")
	w("peersamplesize", strconv.Itoa(cfg.PeerSampleSize))
	w("retryattempts", strconv.Itoa(cfg.RetryAttempts))
	w("retryinitialdelay", cfg.RetryInitialDelay.String())
	w("retrymultiplier", strconv.FormatFloat(cfg.RetryMultiplier, 'g', -1, 64))
	w("retrymaxdelay", cfg.RetryMaxDelay.String())
	w("peercachettl", cfg.PeerCacheTTL.String())
	w("absencettl", cfg.AbsenceTTL.String())
	w("dnsseed", cfg.DNSSeed)

	b.WriteString("\n# Ledger node\n")
	w("rpcurl", cfg.RPCURL)
	w("rpcuser", cfg.RPCUser)
	w("rpcpassword", cfg.RPCPassword)

	b.WriteString("\n# Uploads\n")
	w("authuser", cfg.AuthUser)
	w("authpasswordhash", cfg.AuthPasswordHash)
	w("writers", strings.Join(cfg.Writers, ","))
	w("noncesecret", cfg.NonceSecret)

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
