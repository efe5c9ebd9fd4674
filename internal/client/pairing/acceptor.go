// Package pairing is the client side of the bootstrap protocol: it turns a
// scanned pairing code into a cached relationship key and a server-verified
// connection.
//
// The flow is an explicit state machine (see State). Ownership is checked
// locally before anything leaves the device, and the key is imported
// before server verification so it stays usable across a transient outage.
package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/clinicvault/internal/client/connections"
	"github.com/dmitrijs2005/clinicvault/internal/client/keystore"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
)

// Decoder yields the raw text of a pairing code, e.g. from a camera or a file.
type Decoder interface {
	Decode(ctx context.Context) (string, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context) (string, error)

func (f DecoderFunc) Decode(ctx context.Context) (string, error) { return f(ctx) }

// PinPrompter asks the user for the PIN the issuer shared out of band.
type PinPrompter interface {
	PromptPin(ctx context.Context, doctorID string) (string, error)
}

// Verifier is the server half of the handshake.
type Verifier interface {
	VerifyPairing(ctx context.Context, payload *wire.BootstrapPayload, pin string) (*wire.Connection, error)
}

// Attempt records one run through the state machine.
type Attempt struct {
	State      State
	History    []State
	Payload    *wire.BootstrapPayload
	KeyID      string
	Connection *wire.Connection
	Err        error
}

func newAttempt() *Attempt {
	return &Attempt{State: Idle, History: []State{Idle}}
}

func (a *Attempt) move(to State) {
	if !canMove(a.State, to) {
		panic(fmt.Sprintf("pairing: illegal transition %s -> %s", a.State, to))
	}
	a.State = to
	a.History = append(a.History, to)
}

func (a *Attempt) reject(err error) (*Attempt, error) {
	a.move(Rejected)
	a.Err = err
	return a, err
}

type Acceptor struct {
	userID   string
	decoder  Decoder
	pins     PinPrompter
	verifier Verifier
	store    keystore.KeyStore
	registry *connections.Registry
	logger   logging.Logger
}

// NewAcceptor binds the protocol to the authenticated local identity.
func NewAcceptor(userID string, d Decoder, p PinPrompter, v Verifier, ks keystore.KeyStore, reg *connections.Registry, l logging.Logger) *Acceptor {
	return &Acceptor{
		userID:   userID,
		decoder:  d,
		pins:     p,
		verifier: v,
		store:    ks,
		registry: reg,
		logger:   l.With("module", "pairing"),
	}
}

// provisionalKeyID names a key imported from a payload that did not carry
// its key id; it is replaced once the server reports the real one.
func provisionalKeyID(k *cryptox.Key) string {
	return "pending-" + k.Fingerprint()
}

// Accept runs one attempt. The returned Attempt is never nil and ends in
// Idle (decoder failure, retryable), Rejected or ServerVerified.
func (a *Acceptor) Accept(ctx context.Context) (*Attempt, error) {
	at := newAttempt()

	at.move(Scanning)
	text, err := a.decoder.Decode(ctx)
	if err != nil {
		at.move(Idle)
		at.Err = fmt.Errorf("%w: %v", common.ErrScanFailed, err)
		return at, at.Err
	}

	payload, err := wire.ParsePayload(text)
	if err != nil {
		a.logger.Info(ctx, "pairing code rejected", "reason", common.Kind(err))
		return at.reject(err)
	}
	at.Payload = payload
	at.move(PayloadDecoded)

	if !wire.SameIdentity(payload.DoctorID, a.userID) {
		a.logger.Warn(ctx, "pairing code issued for another clinician", "doctor_id", payload.DoctorID)
		return at.reject(common.ErrOwnershipMismatch)
	}
	at.move(OwnershipValidated)

	key, err := a.importKey(ctx, payload)
	if err != nil {
		return at.reject(err)
	}
	at.KeyID = key.ID()

	pin, err := a.pins.PromptPin(ctx, payload.DoctorID)
	if err != nil {
		return at.reject(fmt.Errorf("read pin: %w", err))
	}

	conn, err := a.verifier.VerifyPairing(ctx, payload, pin)
	if err != nil {
		// The cached key is kept: it is already usable locally and a retry
		// with the right PIN or network must not need a rescan.
		a.logger.Warn(ctx, "server verification failed", "key_id", at.KeyID, "reason", common.Kind(err))
		return at.reject(err)
	}

	if err := a.finalizeKey(ctx, key, conn); err != nil {
		return at.reject(err)
	}
	at.KeyID = conn.KeyID
	at.Connection = conn
	a.registry.Add(*conn)
	at.move(ServerVerified)

	a.logger.Info(ctx, "pairing verified", "key_id", conn.KeyID, "patient_id", conn.PatientID)
	return at, nil
}

func (a *Acceptor) importKey(ctx context.Context, p *wire.BootstrapPayload) (*cryptox.Key, error) {
	raw, err := p.KeyMaterial()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(raw)

	id := p.KeyID
	key, err := cryptox.NewKey(id, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedPayload, err)
	}
	if id == "" {
		key, err = cryptox.NewKey(provisionalKeyID(key), raw)
		if err != nil {
			return nil, err
		}
	}

	if err := a.store.Store(ctx, a.userID, &keystore.KeyHandle{KeyID: key.ID(), DoctorID: p.DoctorID, Key: key}); err != nil {
		return nil, fmt.Errorf("cache key: %w", err)
	}
	return key, nil
}

// finalizeKey re-files the cached key under the server's key id and
// records the patient it belongs to.
func (a *Acceptor) finalizeKey(ctx context.Context, key *cryptox.Key, conn *wire.Connection) error {
	if conn.KeyID == "" {
		return errors.New("server returned a connection without key id")
	}

	final := key
	if key.ID() != conn.KeyID {
		raw := key.Bytes()
		defer common.WipeByteArray(raw)

		var err error
		if final, err = cryptox.NewKey(conn.KeyID, raw); err != nil {
			return err
		}
	}

	h := &keystore.KeyHandle{KeyID: conn.KeyID, DoctorID: conn.DoctorID, PatientID: conn.PatientID, Key: final}
	if err := a.store.Store(ctx, a.userID, h); err != nil {
		return fmt.Errorf("cache key: %w", err)
	}
	if key.ID() != conn.KeyID {
		return a.store.Remove(ctx, a.userID, key.ID())
	}
	return nil
}
