package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/client/client"
	"github.com/dmitrijs2005/clinicvault/internal/client/config"
	"github.com/dmitrijs2005/clinicvault/internal/client/connections"
	"github.com/dmitrijs2005/clinicvault/internal/client/keystore"
	"github.com/dmitrijs2005/clinicvault/internal/client/pairing"
	"github.com/dmitrijs2005/clinicvault/internal/client/recovery"
	"github.com/dmitrijs2005/clinicvault/internal/client/repositories"
	"github.com/dmitrijs2005/clinicvault/internal/client/services"
	"github.com/dmitrijs2005/clinicvault/internal/client/upload"
	"github.com/dmitrijs2005/clinicvault/internal/clock"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/filex"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// getPassphrase is an indirection over GetPassphrase so tests can avoid
// the terminal.
var getPassphrase = GetPassphrase

type App struct {
	config   *config.Config
	userID   string
	api      client.Client
	store    keystore.KeyStore
	registry *connections.Registry
	keys     services.KeyService
	files    services.FileService
	logger   logging.Logger
	closers  []func() error

	mu   sync.Mutex
	mode Mode

	reader *bufio.Reader
	out    io.Writer
}

// NewApp resolves the local identity from the access token, opens the key
// store and builds the services on top of one shared API client.
func NewApp(ctx context.Context, c *config.Config, l logging.Logger) (*App, error) {
	userID, err := client.IdentityFromToken(c.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}

	a := &App{
		config:   c,
		userID:   userID,
		registry: connections.NewRegistry(),
		logger:   l.With("user_id", userID),
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}

	store, closeStore, err := openKeyStore(ctx, c, a.out)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	opts := []client.Option{client.WithTimeout(c.RequestTimeout)}
	if c.GRPCAddr != "" {
		conn, err := client.DialHealth(c.GRPCAddr)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, client.WithHealthConn(conn))
	}
	api := client.NewHTTPClient(c.ServerURL, c.AccessToken, opts...)
	a.api = api
	a.closers = append(a.closers, api.Close)

	rec := recovery.NewRecoverer(api, store, c.RetryAttempts, c.RetryBaseDelay, a.logger)
	up := upload.NewCoordinator(api, upload.DefaultCompensateTimeout, a.logger)

	a.keys = services.NewKeyService(userID, api, store, a.registry, rec, a.logger)
	a.files = services.NewFileService(userID, api, store, a.registry, up, clock.Real(), a.logger)
	return a, nil
}

// openKeyStore picks the key cache backend. The persistent backend is
// unlocked with the device passphrase.
func openKeyStore(ctx context.Context, c *config.Config, w io.Writer) (keystore.KeyStore, func() error, error) {
	switch c.KeyStoreBackend {
	case "memory":
		return keystore.NewMemoryStore(), func() error { return nil }, nil

	case "sqlite", "":
		if dir := filepath.Dir(c.KeyStorePath); dir != "." {
			if _, err := filex.EnsureDir(dir); err != nil {
				return nil, nil, err
			}
		}
		db, err := repositories.InitDatabase(ctx, c.KeyStorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("key store database: %w", err)
		}

		pass, err := getPassphrase(w)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		defer common.WipeByteArray(pass)

		st, err := keystore.OpenSQLite(ctx, db, pass, clock.Real())
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return st, func() error {
			st.Close()
			return db.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown key store backend %q", c.KeyStoreBackend)
	}
}

// Close releases the API client and the key store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// setMode reports a connectivity change once. It returns true when the mode
// actually changed.
func (a *App) setMode(mode Mode) bool {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		fmt.Fprintf(a.out, "Switched to %s mode\n", mode)
	}
	return changed
}

func (a *App) Run(ctx context.Context) {
	defer a.Close()
	a.Root(ctx)
}

// checkOnline pings the server once and updates the mode. Coming back
// online triggers key restoration for connections this device lost.
func (a *App) checkOnline(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := a.api.Ping(pctx)
	cancel()

	if err != nil {
		a.setMode(ModeOffline)
		return
	}
	if a.setMode(ModeOnline) {
		a.refresh(ctx)
	}
}

func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// acceptor builds a pairing acceptor reading the code through d.
func (a *App) acceptor(d pairing.Decoder) *pairing.Acceptor {
	return pairing.NewAcceptor(a.userID, d, terminalPins{w: a.out}, a.api, a.store, a.registry, a.logger)
}
