// Copyright (c) 2024 The digstore developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"strings"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validNetworks lists the ledger networks a node can join.
var validNetworks = map[string]bool{
	"mainnet":   true,
	"testnet":   true,
	"simulator": true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	if !validNetworks[cfg.Network] {
		return ErrInvalidNetwork
	}

	if err := validateAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	if cfg.PeerSampleSize < 1 {
		return ErrInvalidSampleSize
	}

	switch {
	case cfg.RetryAttempts < 1:
		return fmt.Errorf("%w: attempts must be at least 1", ErrInvalidRetryPolicy)
	case cfg.RetryInitialDelay <= 0 || cfg.RetryMaxDelay <= 0:
		return fmt.Errorf("%w: delays must be positive", ErrInvalidRetryPolicy)
	case cfg.RetryMaxDelay < cfg.RetryInitialDelay:
		return fmt.Errorf("%w: max delay below initial delay", ErrInvalidRetryPolicy)
	case cfg.RetryMultiplier < 1:
		return fmt.Errorf("%w: multiplier below 1", ErrInvalidRetryPolicy)
	}

	if cfg.PeerCacheTTL <= 0 || cfg.AbsenceTTL <= 0 {
		return ErrInvalidDuration
	}

	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}
