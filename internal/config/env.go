package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides. The GOOGLE_* names match what
// Google's own tooling and docs use, so credentials configured for other
// tools work here unchanged.
const (
	EnvConfig            = "TOPDF_CONFIG"
	EnvInputDir          = "TOPDF_INPUT_DIR"
	EnvOutputDir         = "TOPDF_OUTPUT_DIR"
	EnvClientID          = "GOOGLE_CLIENT_ID"
	EnvClientSecret      = "GOOGLE_CLIENT_SECRET"
	EnvServiceAccountKey = "GOOGLE_SERVICE_ACCOUNT_KEY"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath        string
	InputDir          string
	OutputDir         string
	ClientID          string
	ClientSecret      string
	ServiceAccountKey string
}

// LoadDotenv loads a .env file from the working directory into the process
// environment if one exists. Missing files are not an error; a malformed
// file is reported so a typo does not silently drop credentials.
func LoadDotenv() error {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// ReadEnvOverrides reads the override environment variables. It does not
// modify any Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:        os.Getenv(EnvConfig),
		InputDir:          os.Getenv(EnvInputDir),
		OutputDir:         os.Getenv(EnvOutputDir),
		ClientID:          os.Getenv(EnvClientID),
		ClientSecret:      os.Getenv(EnvClientSecret),
		ServiceAccountKey: os.Getenv(EnvServiceAccountKey),
	}
}
