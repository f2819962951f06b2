package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jkarvonen/topdf/internal/config"
	"github.com/jkarvonen/topdf/internal/tokenfile"
)

func TestAuthStateServiceAccount(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = &config.Resolved{ServiceAccountKey: "/etc/topdf/key.json"}

	mode, state, email := authState()
	assert.Equal(t, "service_account", mode)
	assert.Empty(t, state)
	assert.Empty(t, email)
}

func TestAuthStateMissingToken(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = &config.Resolved{TokenPath: filepath.Join(t.TempDir(), "token.json")}

	mode, state, _ := authState()
	assert.Equal(t, "oauth", mode)
	assert.Equal(t, "missing", state)
}

func TestAuthStateValidAndExpired(t *testing.T) {
	saveGlobals(t)

	path := filepath.Join(t.TempDir(), "token.json")
	resolvedCfg = &config.Resolved{TokenPath: path}

	tok := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	}
	require.NoError(t, tokenfile.Save(path, tok, map[string]string{
		tokenfile.MetaEmail: "user@example.com",
	}))

	mode, state, email := authState()
	assert.Equal(t, "oauth", mode)
	assert.Equal(t, "valid", state)
	assert.Equal(t, "user@example.com", email)

	tok.Expiry = time.Now().Add(-time.Hour)
	require.NoError(t, tokenfile.Save(path, tok, nil))

	_, state, _ = authState()
	assert.Equal(t, "expired", state)
}

func TestEffectiveConfigPath(t *testing.T) {
	saveGlobals(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	flagConfigPath = path

	assert.Contains(t, effectiveConfigPath(), "not found")

	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	assert.Equal(t, path, effectiveConfigPath())
}
