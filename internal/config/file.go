package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Load resolves configuration in precedence order: a .env file in the working
// directory first, then ~/.dupescope/config.json. Both are optional.
func Load() error {
	// Best-effort: a missing .env is the normal case.
	_ = godotenv.Load()
	return loadFromUserConfig()
}

func loadFromUserConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		// Best-effort: if we can't resolve home, just skip file loading.
		return nil
	}

	configPath := filepath.Join(home, ".dupescope", "config.json")
	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	var cfg map[string]string
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return err
	}

	for key, value := range cfg {
		if value == "" {
			continue
		}
		// Values from ~/.dupescope/config.json take precedence over existing env vars.
		_ = os.Setenv(key, value)
	}

	return nil
}
