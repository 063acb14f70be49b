package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvRPCEndpoint    = "BACKRUNNER_RPC_URL"
	EnvWSEndpoint     = "BACKRUNNER_WS_URL"
	EnvFlashbotsRelay = "FLASHBOTS_RELAY_URL"
	EnvChainID        = "BACKRUNNER_CHAIN_ID"
	EnvBundleMode     = "BACKRUNNER_BUNDLE_MODE"
	EnvMinProfit      = "BACKRUNNER_MIN_PROFIT"
	EnvJournalPath    = "BACKRUNNER_JOURNAL"
	EnvPrivateKey     = "BACKRUNNER_PRIVATE_KEY"
	EnvFlashbotsKey   = "FLASHBOTS_KEY"
)

// LoadEnv loads environment variables from .env files. Missing files are
// ignored; variables already set in the environment win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := files[:0]
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
