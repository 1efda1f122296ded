// Copyright (c) 2024 The digstore developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"mainnet\", \"testnet\", or \"simulator\")")

	// ErrInvalidListenAddr indicates the listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigLine indicates a line in the config file is malformed.
	ErrInvalidConfigLine = errors.New("config: invalid configuration line")

	// ErrInvalidConfigValue indicates a numeric or duration value failed to parse.
	ErrInvalidConfigValue = errors.New("config: invalid configuration value")

	// ErrInvalidSampleSize indicates a peer sample size below one.
	ErrInvalidSampleSize = errors.New("config: peer sample size must be positive")

	// ErrInvalidRetryPolicy indicates retry settings that cannot form a backoff schedule.
	ErrInvalidRetryPolicy = errors.New("config: invalid retry policy")

	// ErrInvalidDuration indicates a negative or zero cache lifetime.
	ErrInvalidDuration = errors.New("config: durations must be positive")
)
