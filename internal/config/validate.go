package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// chunkAlignment is the Drive resumable-upload requirement: every chunk
// except the last must be a multiple of 256 KiB.
const chunkAlignment = 256 * 1024

// Placeholder credential values that must never reach the wire. Shipped
// sample configs use these; startup fails with a pointed message instead
// of a confusing 401 from the token endpoint.
var placeholderCredentials = map[string]bool{
	"YOUR_CLIENT_ID":             true,
	"YOUR_CLIENT_SECRET":         true,
	"your-client-id":             true,
	"your-client-secret":         true,
	"REPLACE_WITH_CLIENT_ID":     true,
	"REPLACE_WITH_CLIENT_SECRET": true,
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

// validate checks all fields and parses string sizes/durations, returning
// the fully resolved configuration.
func validate(cfg *Config) (*Resolved, error) {
	var errs []error

	if cfg.Convert.Workers < 1 {
		errs = append(errs, fmt.Errorf("convert.workers must be >= 1, got %d", cfg.Convert.Workers))
	}

	if cfg.Convert.Attempts < 1 {
		errs = append(errs, fmt.Errorf("convert.attempts must be >= 1, got %d", cfg.Convert.Attempts))
	}

	threshold, err := parseSize(cfg.Convert.ResumableThreshold)
	if err != nil {
		errs = append(errs, fmt.Errorf("convert.resumable_threshold: %w", err))
	}

	chunkSize, err := parseSize(cfg.Convert.ChunkSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("convert.chunk_size: %w", err))
	} else if chunkSize <= 0 || chunkSize%chunkAlignment != 0 {
		errs = append(errs, fmt.Errorf(
			"convert.chunk_size must be a positive multiple of 256 KiB, got %q", cfg.Convert.ChunkSize))
	}

	debounce, err := time.ParseDuration(cfg.Convert.Debounce)
	if err != nil {
		errs = append(errs, fmt.Errorf("convert.debounce: %w", err))
	}

	timeout, err := time.ParseDuration(cfg.Network.Timeout)
	if err != nil {
		errs = append(errs, fmt.Errorf("network.timeout: %w", err))
	}

	if !validLogLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", cfg.Logging.Level))
	}

	if !validLogFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Errorf("logging.format must be one of auto/text/json, got %q", cfg.Logging.Format))
	}

	if placeholderCredentials[cfg.Auth.ClientID] || placeholderCredentials[cfg.Auth.ClientSecret] {
		errs = append(errs, errors.New(
			"auth.client_id/client_secret are still placeholders — set real OAuth2 credentials "+
				"(or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET in the environment)"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	dataDir := cfg.Paths.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	tokenPath := cfg.Auth.TokenFile
	if tokenPath == "" {
		tokenPath = filepath.Join(dataDir, "token.json")
	}

	return &Resolved{
		InputDir:           cfg.Paths.InputDir,
		OutputDir:          cfg.Paths.OutputDir,
		DataDir:            dataDir,
		Workers:            cfg.Convert.Workers,
		Attempts:           cfg.Convert.Attempts,
		ResumableThreshold: threshold,
		ChunkSize:          chunkSize,
		StrictTypes:        cfg.Convert.StrictTypes,
		Debounce:           debounce,
		ClientID:           cfg.Auth.ClientID,
		ClientSecret:       cfg.Auth.ClientSecret,
		TokenPath:          tokenPath,
		ServiceAccountKey:  cfg.Auth.ServiceAccountKey,
		LogLevel:           cfg.Logging.Level,
		LogFormat:          cfg.Logging.Format,
		Timeout:            timeout,
		UserAgent:          cfg.Network.UserAgent,
	}, nil
}
