// Package recovery restores relationship keys the local device has lost.
//
// A ghost connection is an active relationship, as reported by the server,
// for which the key store holds no key. Each ghost is restored independently
// from the server's custody copy; network failures are retried with
// exponential backoff, every other failure is final for that connection.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/client/keystore"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// maxParallel bounds concurrent restorations per run.
const maxParallel = 4

// MaterialFetcher asks the server to reissue a key's material.
type MaterialFetcher interface {
	FetchKeyMaterial(ctx context.Context, keyID string) ([]byte, error)
}

// Outcome is the result for one ghost connection.
type Outcome struct {
	KeyID     string
	PatientID string
	Restored  bool
	Err       error
}

// Report summarizes a recovery run. Partial restoration is a valid result.
type Report struct {
	Ghosts   int
	Restored int
	Outcomes []Outcome
}

type Recoverer struct {
	fetcher  MaterialFetcher
	store    keystore.KeyStore
	logger   logging.Logger
	attempts uint64
	base     time.Duration

	flight singleflight.Group

	mu       sync.Mutex
	required map[string]bool
}

// NewRecoverer retries each fetch up to attempts extra times, starting at
// base delay and doubling.
func NewRecoverer(f MaterialFetcher, ks keystore.KeyStore, attempts uint64, base time.Duration, l logging.Logger) *Recoverer {
	return &Recoverer{
		fetcher:  f,
		store:    ks,
		logger:   l.With("module", "recovery"),
		attempts: attempts,
		base:     base,
		required: make(map[string]bool),
	}
}

// Ghosts returns the active connections with no cached key for userID.
func (r *Recoverer) Ghosts(ctx context.Context, userID string, conns []wire.Connection) []wire.Connection {
	var out []wire.Connection
	for _, c := range conns {
		if keys.Status(c.Status) != keys.StatusActive {
			continue
		}
		if _, err := r.store.Lookup(ctx, userID, c.KeyID); errors.Is(err, common.ErrKeyAbsent) {
			out = append(out, c)
		}
	}
	return out
}

// SessionKeyRequired reports whether the last run for userID found ghosts
// and restored none. The condition persists until a later run restores a
// key or finds nothing missing.
func (r *Recoverer) SessionKeyRequired(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.required[flightUser(userID)]
}

func (r *Recoverer) setRequired(userID string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v {
		r.required[flightUser(userID)] = true
		return
	}
	delete(r.required, flightUser(userID))
}

// Recover restores every ghost among conns in parallel. It returns
// common.ErrSessionKeyRequired when ghosts exist and none was restored.
func (r *Recoverer) Recover(ctx context.Context, userID string, conns []wire.Connection) (*Report, error) {
	ghosts := r.Ghosts(ctx, userID, conns)
	report := &Report{Ghosts: len(ghosts), Outcomes: make([]Outcome, len(ghosts))}
	if len(ghosts) == 0 {
		r.setRequired(userID, false)
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, c := range ghosts {
		i, c := i, c
		g.Go(func() error {
			err := r.restoreOnce(gctx, userID, c)
			report.Outcomes[i] = Outcome{KeyID: c.KeyID, PatientID: c.PatientID, Restored: err == nil, Err: err}
			// Per-connection failures never cancel the siblings.
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range report.Outcomes {
		if o.Restored {
			report.Restored++
		} else {
			r.logger.Warn(ctx, "key restoration failed", "key_id", o.KeyID, "reason", common.Kind(o.Err))
		}
	}

	if report.Restored == 0 {
		r.setRequired(userID, true)
		return report, fmt.Errorf("%w: %d connection(s) without a key", common.ErrSessionKeyRequired, report.Ghosts)
	}
	r.setRequired(userID, false)
	r.logger.Info(ctx, "keys restored", "restored", report.Restored, "ghosts", report.Ghosts)
	return report, nil
}

func flightUser(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}

// restoreOnce collapses concurrent restorations of the same key for the
// same user into one fetch.
func (r *Recoverer) restoreOnce(ctx context.Context, userID string, c wire.Connection) error {
	_, err, _ := r.flight.Do(flightUser(userID)+"/"+c.KeyID, func() (any, error) {
		return nil, r.restore(ctx, userID, c)
	})
	return err
}

func (r *Recoverer) restore(ctx context.Context, userID string, c wire.Connection) error {
	var raw []byte
	b := retry.WithMaxRetries(r.attempts, retry.NewExponential(r.base))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		m, err := r.fetcher.FetchKeyMaterial(ctx, c.KeyID)
		if errors.Is(err, common.ErrNetwork) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		raw = m
		return nil
	})
	if err != nil {
		return err
	}
	defer common.WipeByteArray(raw)

	key, err := cryptox.NewKey(c.KeyID, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrMalformedPayload, err)
	}
	return r.store.Store(ctx, userID, &keystore.KeyHandle{KeyID: c.KeyID, DoctorID: c.DoctorID, PatientID: c.PatientID, Key: key})
}
