package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/flagx"
)

var clientFlags = []string{"-a", "-r", "-t", "-k", "-f", "-i", "-w", "-n", "-b"}

// parseFlags overlays command-line flags on cfg. -i is in whole seconds for
// compatibility with existing scripts; the other durations use Go syntax.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], clientFlags)

	fs := flag.NewFlagSet("client", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the REST API")
	fs.StringVar(&cfg.GRPCAddr, "r", cfg.GRPCAddr, "gRPC health endpoint, empty to probe over REST")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "bearer access token")
	fs.StringVar(&cfg.KeyStoreBackend, "k", cfg.KeyStoreBackend, "key store backend (sqlite, memory)")
	fs.StringVar(&cfg.KeyStorePath, "f", cfg.KeyStorePath, "key store database file")
	checkSeconds := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval, seconds")

	fs.DurationVar(&cfg.RequestTimeout, "w", cfg.RequestTimeout, "per-request deadline")
	fs.Uint64Var(&cfg.RetryAttempts, "n", cfg.RetryAttempts, "key restoration attempts on network errors")
	fs.DurationVar(&cfg.RetryBaseDelay, "b", cfg.RetryBaseDelay, "first restoration backoff, doubled per attempt")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*checkSeconds) * time.Second
}
