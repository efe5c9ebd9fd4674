package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces server environment variables, e.g. CLINICVAULT_DATABASE_DSN.
const EnvPrefix = "CLINICVAULT"

// dotEnvFile is loaded (if present) before the environment is read.
// Variables already set in the process environment win.
var dotEnvFile = ".env"

// parseEnv overlays fields whose environment variable is set; unset
// variables leave the current value untouched. Panics on unparsable values,
// matching the other config sources.
func parseEnv(config *Config) {
	_ = godotenv.Load(dotEnvFile)

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		panic(err)
	}
}
