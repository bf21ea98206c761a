package configs

import (
	"os"

	"github.com/hilthontt/notifygate/internal/infrastructure/env"
)

// DetermineConfigPath picks the config file to load. An explicit path wins,
// then NOTIFYGATE_CONFIG, then the first well-known location that exists.
// An empty result means "defaults and environment only".
func DetermineConfigPath(explicit string) string {
	configPath := explicit

	if configPath == "" {
		configPath = env.GetString("NOTIFYGATE_CONFIG", "")
	}

	if configPath == "" {
		candidates := []string{
			"./config.yaml",
			"./config.yml",
			"../../config.yaml", // keep for local dev
			"/etc/notifygate/config.yaml",
			"/app/config.yaml", // common in Docker
		}

		for _, p := range candidates {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	return configPath
}
