package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestResolveDefaults(t *testing.T) {
	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")})
	require.NoError(t, err)

	assert.Equal(t, DefaultInputDir, r.InputDir)
	assert.Equal(t, DefaultOutputDir, r.OutputDir)
	assert.Equal(t, 4, r.Workers)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, int64(5*1024*1024), r.ResumableThreshold)
	assert.Equal(t, int64(8*1024*1024), r.ChunkSize)
	assert.Equal(t, 2*time.Second, r.Debounce)
	assert.Equal(t, 30*time.Second, r.Timeout)
	assert.Equal(t, "info", r.LogLevel)
	assert.False(t, r.StrictTypes)
}

func TestResolveFileValues(t *testing.T) {
	path := writeConfig(t, `
[paths]
input_dir = "/srv/docs"
output_dir = "/srv/pdf"
data_dir = "/var/lib/topdf"

[convert]
workers = 2
attempts = 5
resumable_threshold = "1MiB"
chunk_size = "512KiB"
strict_types = true

[auth]
client_id = "id-from-file"
client_secret = "secret-from-file"
`)

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, "/srv/docs", r.InputDir)
	assert.Equal(t, "/srv/pdf", r.OutputDir)
	assert.Equal(t, 2, r.Workers)
	assert.Equal(t, 5, r.Attempts)
	assert.Equal(t, int64(1024*1024), r.ResumableThreshold)
	assert.Equal(t, int64(512*1024), r.ChunkSize)
	assert.True(t, r.StrictTypes)
	assert.Equal(t, "id-from-file", r.ClientID)
	assert.Equal(t, filepath.Join("/var/lib/topdf", "token.json"), r.TokenPath)
	assert.Equal(t, filepath.Join("/var/lib/topdf", "journal.db"), r.JournalPath())
	assert.Equal(t, filepath.Join("/var/lib/topdf", "watch.pid"), r.PIDPath())
}

func TestResolvePrecedence(t *testing.T) {
	// CLI flags beat environment, environment beats file.
	path := writeConfig(t, `
[paths]
input_dir = "/from/file"
output_dir = "/from/file-out"
`)

	env := EnvOverrides{
		InputDir:  "/from/env",
		OutputDir: "/from/env-out",
		ClientID:  "env-id",
	}
	cli := CLIOverrides{ConfigPath: path, InputDir: "/from/cli", Workers: 9}

	r, err := Resolve(env, cli)
	require.NoError(t, err)

	assert.Equal(t, "/from/cli", r.InputDir)
	assert.Equal(t, "/from/env-out", r.OutputDir)
	assert.Equal(t, "env-id", r.ClientID)
	assert.Equal(t, 9, r.Workers)
}

func TestResolveUnknownKeySuggestion(t *testing.T) {
	path := writeConfig(t, `
[convert]
worker = 2
`)

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"convert.worker"`)
	assert.Contains(t, err.Error(), `"convert.workers"`)
}

func TestResolveValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantSub string
	}{
		{
			name:    "zero workers",
			content: "[convert]\nworkers = 0\n",
			wantSub: "workers must be >= 1",
		},
		{
			name:    "zero attempts",
			content: "[convert]\nattempts = 0\n",
			wantSub: "attempts must be >= 1",
		},
		{
			name:    "misaligned chunk size",
			content: "[convert]\nchunk_size = \"300KiB\"\n",
			wantSub: "multiple of 256 KiB",
		},
		{
			name:    "bad threshold",
			content: "[convert]\nresumable_threshold = \"lots\"\n",
			wantSub: "resumable_threshold",
		},
		{
			name:    "bad log level",
			content: "[logging]\nlevel = \"trace\"\n",
			wantSub: "logging.level",
		},
		{
			name:    "bad log format",
			content: "[logging]\nformat = \"xml\"\n",
			wantSub: "logging.format",
		},
		{
			name:    "bad debounce",
			content: "[convert]\ndebounce = \"soon\"\n",
			wantSub: "debounce",
		},
		{
			name:    "placeholder credentials",
			content: "[auth]\nclient_id = \"YOUR_CLIENT_ID\"\n",
			wantSub: "placeholders",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)

			_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "0", want: 0},
		{in: "1024", want: 1024},
		{in: "5MiB", want: 5 * 1024 * 1024},
		{in: "8MiB", want: 8 * 1024 * 1024},
		{in: "256KiB", want: 256 * 1024},
		{in: "1.5MiB", want: 1536 * 1024},
		{in: "2MB", want: 2_000_000},
		{in: "1GiB", want: 1024 * 1024 * 1024},
		{in: "10B", want: 10},
		{in: " 5MiB ", want: 5 * 1024 * 1024},
		{in: "-1", wantErr: true},
		{in: "-5MiB", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("workers", "worker"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}
