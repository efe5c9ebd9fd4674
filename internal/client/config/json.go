package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/clinicvault/internal/flagx"
	"github.com/dmitrijs2005/clinicvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. The access token is
// deliberately absent: it is never read from a file that may be shared.
type JsonConfig struct {
	ServerURL           string         `json:"server_url"`
	GRPCAddr            string         `json:"grpc_addr"`
	KeyStoreBackend     string         `json:"keystore_backend"`
	KeyStorePath        string         `json:"keystore_path"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
	RetryAttempts       uint64         `json:"retry_attempts"`
	RetryBaseDelay      timex.Duration `json:"retry_base_delay"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		ServerURL:           c.ServerURL,
		GRPCAddr:            c.GRPCAddr,
		KeyStoreBackend:     c.KeyStoreBackend,
		KeyStorePath:        c.KeyStorePath,
		RequestTimeout:      timex.Duration{Duration: c.RequestTimeout},
		RetryAttempts:       c.RetryAttempts,
		RetryBaseDelay:      timex.Duration{Duration: c.RetryBaseDelay},
		OnlineCheckInterval: timex.Duration{Duration: c.OnlineCheckInterval},
	}
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Keys missing from the file keep their current value.
// Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	jc := toJson(cfg)
	if err := json.Unmarshal(data, jc); err != nil {
		panic(err)
	}

	cfg.ServerURL = jc.ServerURL
	cfg.GRPCAddr = jc.GRPCAddr
	cfg.KeyStoreBackend = jc.KeyStoreBackend
	cfg.KeyStorePath = jc.KeyStorePath
	cfg.RequestTimeout = jc.RequestTimeout.Duration
	cfg.RetryAttempts = jc.RetryAttempts
	cfg.RetryBaseDelay = jc.RetryBaseDelay.Duration
	cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
}
