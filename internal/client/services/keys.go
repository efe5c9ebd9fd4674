// Package services contains application services for the clinicvault client.
// This file defines the key service: issuing and rotating pairings, keeping
// the local connection view in sync with the server and revoking keys.
package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/clinicvault/internal/client/client"
	"github.com/dmitrijs2005/clinicvault/internal/client/connections"
	"github.com/dmitrijs2005/clinicvault/internal/client/keystore"
	"github.com/dmitrijs2005/clinicvault/internal/client/recovery"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
)

// KeyService defines relationship key operations for the CLI.
//
// Contract:
//   - CreatePairing: issue a new key for a doctor/patient pair and cache it
//     locally for the issuer.
//   - Refresh: reload connections from the server and restore any key this
//     device is missing.
//   - Rotate: replace the Active key of a pair; the previous key stays cached
//     for files sealed under it.
//   - Revoke, Delete: end a relationship and drop the cached key.
//
// All methods honor context cancellation.
type KeyService interface {
	CreatePairing(ctx context.Context, doctorID, patientID string) (*wire.CreatePairingResponse, error)
	Refresh(ctx context.Context) (*recovery.Report, error)
	Rotate(ctx context.Context, keyID string) (*wire.CreatePairingResponse, error)
	Revoke(ctx context.Context, keyID string) error
	Delete(ctx context.Context, keyID string) error
	Connections() []wire.Connection
	SessionKeyRequired() bool
}

type keyService struct {
	userID    string
	client    client.Client
	store     keystore.KeyStore
	registry  *connections.Registry
	recoverer *recovery.Recoverer
	logger    logging.Logger
}

// NewKeyService binds key operations to the authenticated local identity.
func NewKeyService(userID string, c client.Client, ks keystore.KeyStore, reg *connections.Registry, r *recovery.Recoverer, l logging.Logger) KeyService {
	return &keyService{
		userID:    userID,
		client:    c,
		store:     ks,
		registry:  reg,
		recoverer: r,
		logger:    l.With("module", "keys"),
	}
}

func (s *keyService) CreatePairing(ctx context.Context, doctorID, patientID string) (*wire.CreatePairingResponse, error) {
	resp, err := s.client.CreatePairing(ctx, doctorID, patientID)
	if err != nil {
		return nil, fmt.Errorf("create pairing: %w", err)
	}
	if err := s.cacheIssued(ctx, resp, patientID); err != nil {
		return nil, err
	}

	s.registry.Add(wire.Connection{
		KeyID:     resp.KeyID,
		DoctorID:  doctorID,
		PatientID: patientID,
		Status:    string(keys.StatusActive),
		ExpiresAt: resp.ExpiresAt,
	})
	s.logger.Info(ctx, "pairing issued", "key_id", resp.KeyID, "doctor_id", doctorID)
	return resp, nil
}

// cacheIssued stores the key carried by a freshly issued payload so the
// issuer can encrypt right away.
func (s *keyService) cacheIssued(ctx context.Context, resp *wire.CreatePairingResponse, patientID string) error {
	p, err := wire.ParsePayload(resp.BootstrapPayload)
	if err != nil {
		return fmt.Errorf("issued payload: %w", err)
	}
	raw, err := p.KeyMaterial()
	if err != nil {
		return fmt.Errorf("issued payload: %w", err)
	}
	defer common.WipeByteArray(raw)

	key, err := cryptox.NewKey(resp.KeyID, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrMalformedPayload, err)
	}
	h := &keystore.KeyHandle{KeyID: resp.KeyID, DoctorID: p.DoctorID, PatientID: patientID, Key: key}
	if err := s.store.Store(ctx, s.userID, h); err != nil {
		return fmt.Errorf("cache key: %w", err)
	}
	return nil
}

// Refresh replaces the local connection view with the server's and runs
// ghost recovery over it. A recovery that restores nothing is returned as
// common.ErrSessionKeyRequired together with the report.
func (s *keyService) Refresh(ctx context.Context) (*recovery.Report, error) {
	conns, err := s.client.ListConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	s.registry.Replace(conns)

	return s.recoverer.Recover(ctx, s.userID, conns)
}

func (s *keyService) Rotate(ctx context.Context, keyID string) (*wire.CreatePairingResponse, error) {
	prev, known := s.registry.Get(keyID)

	resp, err := s.client.RotateKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("rotate key: %w", err)
	}
	if err := s.cacheIssued(ctx, resp, prev.PatientID); err != nil {
		return nil, err
	}

	if known {
		prev.Status = string(keys.StatusInactive)
		s.registry.Add(prev)
		s.registry.Add(wire.Connection{
			KeyID:     resp.KeyID,
			DoctorID:  prev.DoctorID,
			PatientID: prev.PatientID,
			Status:    string(keys.StatusActive),
			ExpiresAt: resp.ExpiresAt,
		})
	}
	s.logger.Info(ctx, "key rotated", "previous_key_id", keyID, "key_id", resp.KeyID)
	return resp, nil
}

// Revoke ends the relationship on the server, then proactively drops the
// cached key so nothing new is sealed under it.
func (s *keyService) Revoke(ctx context.Context, keyID string) error {
	if err := s.client.RevokeKey(ctx, keyID); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if err := s.store.Remove(ctx, s.userID, keyID); err != nil {
		return fmt.Errorf("drop cached key: %w", err)
	}
	if c, ok := s.registry.Get(keyID); ok {
		c.Status = string(keys.StatusRevoked)
		s.registry.Add(c)
	}
	s.logger.Info(ctx, "key revoked", "key_id", keyID)
	return nil
}

func (s *keyService) Delete(ctx context.Context, keyID string) error {
	if err := s.client.DeleteKey(ctx, keyID); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	if err := s.store.Remove(ctx, s.userID, keyID); err != nil {
		return fmt.Errorf("drop cached key: %w", err)
	}
	s.registry.Remove(keyID)
	s.logger.Info(ctx, "key deleted", "key_id", keyID)
	return nil
}

func (s *keyService) Connections() []wire.Connection {
	return s.registry.List()
}

func (s *keyService) SessionKeyRequired() bool {
	return s.recoverer.SessionKeyRequired(s.userID)
}
