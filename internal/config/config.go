// Package config loads and validates topdf configuration from its TOML
// config file, environment variables, and CLI flags. The override chain is
// defaults -> config file -> environment -> CLI flags, so one-off flag
// overrides never require editing the file.
package config

import "time"

// Config mirrors the TOML config file. Sizes and durations are strings in
// the file ("5MiB", "2s") and are parsed into a Resolved during validation.
type Config struct {
	Paths   PathsConfig   `toml:"paths"`
	Convert ConvertConfig `toml:"convert"`
	Auth    AuthConfig    `toml:"auth"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// PathsConfig names the local directories topdf works with.
type PathsConfig struct {
	InputDir  string `toml:"input_dir"`
	OutputDir string `toml:"output_dir"`
	DataDir   string `toml:"data_dir"`
}

// ConvertConfig tunes the conversion pipeline.
type ConvertConfig struct {
	Workers            int    `toml:"workers"`
	Attempts           int    `toml:"attempts"`
	ResumableThreshold string `toml:"resumable_threshold"`
	ChunkSize          string `toml:"chunk_size"`
	StrictTypes        bool   `toml:"strict_types"`
	Debounce           string `toml:"debounce"`
}

// AuthConfig holds OAuth2 client credentials and token storage settings.
// client_secret in a config file is acceptable for an installed app — the
// secret is not confidential in the OAuth2 installed-application model.
type AuthConfig struct {
	ClientID          string `toml:"client_id"`
	ClientSecret      string `toml:"client_secret"`
	TokenFile         string `toml:"token_file"`
	ServiceAccountKey string `toml:"service_account_key"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NetworkConfig tunes the HTTP client.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// Default values. The threshold and chunk size are the Drive API's
// conventional values: resumable above 5 MiB, 8 MiB chunks (a multiple of
// the required 256 KiB alignment).
const (
	DefaultWorkers            = 4
	DefaultAttempts           = 3
	DefaultResumableThreshold = "5MiB"
	DefaultChunkSize          = "8MiB"
	DefaultDebounce           = "2s"
	DefaultTimeout            = "30s"
	DefaultUserAgent          = "topdf/" + "0.1"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "auto"
	DefaultInputDir           = "./input"
	DefaultOutputDir          = "./output"
)

// DefaultConfig returns a Config populated with all default values,
// supporting the zero-config first-run experience.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			InputDir:  DefaultInputDir,
			OutputDir: DefaultOutputDir,
		},
		Convert: ConvertConfig{
			Workers:            DefaultWorkers,
			Attempts:           DefaultAttempts,
			ResumableThreshold: DefaultResumableThreshold,
			ChunkSize:          DefaultChunkSize,
			Debounce:           DefaultDebounce,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout:   DefaultTimeout,
			UserAgent: DefaultUserAgent,
		},
	}
}

// Resolved is the fully parsed, validated configuration handed to the rest
// of the program. All sizes are bytes and all durations are time.Duration.
type Resolved struct {
	InputDir  string
	OutputDir string
	DataDir   string

	Workers            int
	Attempts           int
	ResumableThreshold int64
	ChunkSize          int64
	StrictTypes        bool
	Debounce           time.Duration

	ClientID          string
	ClientSecret      string
	TokenPath         string
	ServiceAccountKey string

	LogLevel  string
	LogFormat string

	Timeout   time.Duration
	UserAgent string
}

// JournalPath returns the SQLite journal location under the data dir.
func (r *Resolved) JournalPath() string {
	return joinData(r.DataDir, "journal.db")
}

// PIDPath returns the watch-mode lock file location under the data dir.
func (r *Resolved) PIDPath() string {
	return joinData(r.DataDir, "watch.pid")
}
