package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/flagx"
)

var (
	serverValueFlags = []string{"-a", "-r", "-d", "-s", "-k", "-t", "-v", "-w", "-x", "-i", "-n", "-m", "-o", "-u", "-p", "-b", "-g", "-e", "-L"}
	serverBoolFlags  = []string{"-l"}
)

// parseFlags overlays command-line flags on config. Durations of the key
// lifecycle accept Go syntax ("720h", "90m"); -t stays in minutes.
// An invalid value panics, like the other config layers.
func parseFlags(config *Config) {
	args := flagx.FilterArgsWithBools(os.Args[1:], serverValueFlags, serverBoolFlags)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "REST API bind address")
	fs.StringVar(&config.EndpointAddrGRPC, "r", config.EndpointAddrGRPC, "gRPC health bind address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "PostgreSQL DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "JWT HMAC secret")
	fs.StringVar(&config.KeyEncryptionSecret, "k", config.KeyEncryptionSecret, "secret the key-encryption key is derived from")
	tokenMinutes := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity, minutes")

	fs.DurationVar(&config.KeyValidity, "v", config.KeyValidity, "relationship key validity")
	fs.DurationVar(&config.RotationGrace, "w", config.RotationGrace, "how long a rotated key stays decryptable")
	fs.DurationVar(&config.PendingFileTTL, "x", config.PendingFileTTL, "age after which unconfirmed uploads are swept")
	fs.DurationVar(&config.SweepInterval, "i", config.SweepInterval, "lifecycle sweep interval")
	fs.IntVar(&config.MaxPinAttempts, "n", config.MaxPinAttempts, "wrong PINs before a pairing expires")
	fs.Int64Var(&config.MaxUploadBytes, "m", config.MaxUploadBytes, "largest accepted ciphertext, bytes")

	fs.StringVar(&config.StorageBackend, "o", config.StorageBackend, "object storage backend (s3, minio, memory)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 access key")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 endpoint URL")
	fs.BoolVar(&config.S3UseSSL, "l", config.S3UseSSL, "use TLS towards the object store")
	fs.StringVar(&config.LogLevel, "L", config.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*tokenMinutes) * time.Minute
}
