package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/clinicvault/internal/flagx"
	"github.com/dmitrijs2005/clinicvault/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// Durations use timex.Duration, which accepts "1s"-style strings and integer
// nanoseconds. Keys missing from the file keep their current value.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	KeyEncryptionSecret         string         `json:"key_encryption_secret"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	KeyValidity                 timex.Duration `json:"key_validity"`
	RotationGrace               timex.Duration `json:"rotation_grace"`
	PendingFileTTL              timex.Duration `json:"pending_file_ttl"`
	SweepInterval               timex.Duration `json:"sweep_interval"`
	MaxPinAttempts              int            `json:"max_pin_attempts"`
	MaxUploadBytes              int64          `json:"max_upload_bytes"`
	StorageBackend              string         `json:"storage_backend"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
	S3UseSSL                    bool           `json:"s3_use_ssl"`
	LogLevel                    string         `json:"log_level"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrHTTP:            c.EndpointAddrHTTP,
		EndpointAddrGRPC:            c.EndpointAddrGRPC,
		DatabaseDSN:                 c.DatabaseDSN,
		SecretKey:                   c.SecretKey,
		KeyEncryptionSecret:         c.KeyEncryptionSecret,
		AccessTokenValidityDuration: timex.Duration{Duration: c.AccessTokenValidityDuration},
		KeyValidity:                 timex.Duration{Duration: c.KeyValidity},
		RotationGrace:               timex.Duration{Duration: c.RotationGrace},
		PendingFileTTL:              timex.Duration{Duration: c.PendingFileTTL},
		SweepInterval:               timex.Duration{Duration: c.SweepInterval},
		MaxPinAttempts:              c.MaxPinAttempts,
		MaxUploadBytes:              c.MaxUploadBytes,
		StorageBackend:              c.StorageBackend,
		S3RootUser:                  c.S3RootUser,
		S3RootPassword:              c.S3RootPassword,
		S3Bucket:                    c.S3Bucket,
		S3Region:                    c.S3Region,
		S3BaseEndpoint:              c.S3BaseEndpoint,
		S3UseSSL:                    c.S3UseSSL,
		LogLevel:                    c.LogLevel,
	}
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag into config. If no file is named, nothing happens. If the file
// cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.EndpointAddrGRPC = c.EndpointAddrGRPC
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.KeyEncryptionSecret = c.KeyEncryptionSecret
	config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	config.KeyValidity = c.KeyValidity.Duration
	config.RotationGrace = c.RotationGrace.Duration
	config.PendingFileTTL = c.PendingFileTTL.Duration
	config.SweepInterval = c.SweepInterval.Duration
	config.MaxPinAttempts = c.MaxPinAttempts
	config.MaxUploadBytes = c.MaxUploadBytes
	config.StorageBackend = c.StorageBackend
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.S3UseSSL = c.S3UseSSL
	config.LogLevel = c.LogLevel
}
