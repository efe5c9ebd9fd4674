// Command tokengen mints a bearer token for a user id, signed with the
// server's JWT secret. It stands in for the external account service during
// development.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/server/auth"
	"github.com/dmitrijs2005/clinicvault/internal/server/config"
	"github.com/kelseyhightower/envconfig"
)

type tokenConfig struct {
	SecretKey string        `envconfig:"SECRET_KEY" default:"secretKey"`
	Validity  time.Duration `envconfig:"ACCESS_TOKEN_VALIDITY" default:"12h"`
}

func run(args []string, out io.Writer) error {
	var cfg tokenConfig
	if err := envconfig.Process(config.EnvPrefix, &cfg); err != nil {
		return err
	}

	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	fs.SetOutput(out)
	user := fs.String("user", "", "user id to put into the token")
	secret := fs.String("secret", cfg.SecretKey, "HS256 signing secret")
	validity := fs.Duration("ttl", cfg.Validity, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}

	token, err := auth.GenerateToken(*user, []byte(*secret), *validity)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
