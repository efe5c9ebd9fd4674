package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces client variables, e.g. CLINICVAULT_CLIENT_SERVER_URL,
// so they never collide with the server's bind settings.
const EnvPrefix = "CLINICVAULT_CLIENT"

var dotEnvFile = ".env"

// parseEnv overlays fields whose environment variable is set.
func parseEnv(cfg *Config) {
	_ = godotenv.Load(dotEnvFile)

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		panic(err)
	}
}
