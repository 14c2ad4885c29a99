package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("ALMA_API_KEY replaces configured key", func(t *testing.T) {
		t.Setenv("ALMA_API_KEY", "env-key")

		cfg := &Config{Alma: AlmaConfig{APIKey: "file-key"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "env-key", cfg.Alma.APIKey)
	})

	t.Run("empty ALMA_API_KEY keeps configured key", func(t *testing.T) {
		t.Setenv("ALMA_API_KEY", "")

		cfg := &Config{Alma: AlmaConfig{APIKey: "file-key"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "file-key", cfg.Alma.APIKey)
	})

	t.Run("ALMA_BASE_URL selects region", func(t *testing.T) {
		t.Setenv("ALMA_BASE_URL", "https://api-eu.hosted.exlibrisgroup.com")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "https://api-eu.hosted.exlibrisgroup.com", cfg.Alma.BaseURL)
	})

	t.Run("ENUMCHRON_DB moves the ledger", func(t *testing.T) {
		t.Setenv("ENUMCHRON_DB", "/var/lib/enumchron/ledger.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/var/lib/enumchron/ledger.db", cfg.DatabasePath())
	})
}
