package config

import "time"

// Config holds runtime settings for the clinicvault CLI.
//
// Fields:
//   - ServerURL: base URL of the REST API.
//   - GRPCAddr: host:port of the gRPC health endpoint used for reachability probes.
//   - AccessToken: bearer token identifying the local user.
//   - KeyStoreBackend / KeyStorePath: where relationship keys are cached on this device.
//   - RequestTimeout: per-request deadline for REST calls.
//   - RetryAttempts / RetryBaseDelay: backoff for key restoration on network errors.
//   - OnlineCheckInterval: how often the client probes server reachability.
type Config struct {
	ServerURL           string        `envconfig:"SERVER_URL"`
	GRPCAddr            string        `envconfig:"GRPC_ADDR"`
	AccessToken         string        `envconfig:"TOKEN"`
	KeyStoreBackend     string        `envconfig:"KEYSTORE"`
	KeyStorePath        string        `envconfig:"KEYSTORE_PATH"`
	RequestTimeout      time.Duration `envconfig:"REQUEST_TIMEOUT"`
	RetryAttempts       uint64        `envconfig:"RETRY_ATTEMPTS"`
	RetryBaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY"`
	OnlineCheckInterval time.Duration `envconfig:"ONLINE_CHECK_INTERVAL"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.GRPCAddr = "127.0.0.1:50051"
	c.AccessToken = ""
	c.KeyStoreBackend = "sqlite"
	c.KeyStorePath = "clinicvault.db"
	c.RequestTimeout = 15 * time.Second
	c.RetryAttempts = 3
	c.RetryBaseDelay = 200 * time.Millisecond
	c.OnlineCheckInterval = 3 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags. Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
