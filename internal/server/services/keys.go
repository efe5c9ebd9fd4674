// Package services contains server-side business logic. This file implements
// KeyService: issuing relationship keys and pairing codes, confirming scans,
// serving key material for restoration, and the key lifecycle (revoke,
// delete, rotate, expiry sweep).
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/clock"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/dbx"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/server/audit"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
	keyrepo "github.com/dmitrijs2005/clinicvault/internal/server/repositories/keys"
	"github.com/dmitrijs2005/clinicvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"github.com/google/uuid"
)

const (
	// PinDigits is the length of the out-of-band pairing PIN.
	PinDigits = 6

	pairingTokenSize = 32
	pinSaltSize      = 16

	systemActor = "system"
)

// KeyPolicy holds the lifecycle settings of relationship keys.
type KeyPolicy struct {
	KeyValidity    time.Duration
	RotationGrace  time.Duration
	MaxPinAttempts int
}

// PairingResult is what the creator of a pairing receives. Payload is the
// text to render as a scannable code; Pin must be delivered separately.
type PairingResult struct {
	Key     *models.RelationshipKey
	Payload string
	Pin     string
}

// SweepReport counts what one expiry sweep changed.
type SweepReport struct {
	Expired int
	Revoked int
}

type KeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	wrapper     *cryptox.KeyWrapper
	audit       audit.Recorder
	clock       clock.Clock
	logger      logging.Logger
	policy      KeyPolicy
}

func NewKeyService(db *sql.DB, m repomanager.RepositoryManager, wrapper *cryptox.KeyWrapper, rec audit.Recorder,
	clk clock.Clock, logger logging.Logger, policy KeyPolicy) *KeyService {
	if policy.MaxPinAttempts <= 0 {
		policy.MaxPinAttempts = 5
	}
	return &KeyService{
		db:          db,
		repomanager: m,
		wrapper:     wrapper,
		audit:       rec,
		clock:       clk,
		logger:      logger.With("module", "keys"),
		policy:      policy,
	}
}

// CreatePairing issues a new Active relationship key for (doctorID,
// patientID) and the bootstrap payload that carries it. The caller must be
// one of the two parties.
func (s *KeyService) CreatePairing(ctx context.Context, callerID, doctorID, patientID string) (*PairingResult, error) {
	doctorID, patientID = normalize(doctorID), normalize(patientID)
	if doctorID == "" || patientID == "" || wire.SameIdentity(doctorID, patientID) {
		return nil, fmt.Errorf("%w: doctor and patient must be two distinct ids", common.ErrorValidation)
	}
	if !wire.SameIdentity(callerID, doctorID) && !wire.SameIdentity(callerID, patientID) {
		return nil, common.ErrorForbidden
	}

	repo := s.repomanager.Keys(s.db)

	_, err := repo.FindActive(ctx, doctorID, patientID)
	switch {
	case err == nil:
		s.audit.Record(ctx, models.ActionPairingCreate, callerID, doctorID+"/"+patientID, models.ResultFailed, "duplicate")
		return nil, common.ErrDuplicatePairing
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	res, err := s.issue(ctx, repo, doctorID, patientID)
	if err != nil {
		if errors.Is(err, common.ErrDuplicatePairing) {
			s.audit.Record(ctx, models.ActionPairingCreate, callerID, doctorID+"/"+patientID, models.ResultFailed, "duplicate")
		}
		return nil, err
	}

	s.audit.Record(ctx, models.ActionKeyGenerate, callerID, res.Key.ID, models.ResultOK, "")
	s.audit.Record(ctx, models.ActionPairingCreate, callerID, res.Key.ID, models.ResultOK, "")
	s.logger.Info(ctx, "pairing created", "key_id", res.Key.ID, "doctor_id", doctorID, "patient_id", patientID)

	return res, nil
}

// issue generates key material, a pairing token and a PIN, and persists the
// new Active key through repo.
func (s *KeyService) issue(ctx context.Context, repo keyrepo.Repository, doctorID, patientID string) (*PairingResult, error) {
	now := s.clock.Now()
	id := "k-" + uuid.NewString()

	raw := common.GenerateRandByteArray(cryptox.KeySize)
	defer common.WipeByteArray(raw)
	token := common.GenerateRandByteArray(pairingTokenSize)
	salt := common.GenerateRandByteArray(pinSaltSize)

	pin, err := cryptox.NewPin(PinDigits)
	if err != nil {
		return nil, err
	}

	wrapped, err := s.wrapper.Wrap(id, raw)
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}

	k := &models.RelationshipKey{
		ID:               id,
		DoctorID:         doctorID,
		PatientID:        patientID,
		Status:           keys.StatusActive,
		WrappedKey:       wrapped,
		CreatedAt:        now,
		PairingTokenHash: cryptox.HashToken(token),
		PinHash:          cryptox.HashPin(pin, salt),
		PinSalt:          salt,
	}
	if s.policy.KeyValidity > 0 {
		exp := now.Add(s.policy.KeyValidity)
		k.ExpiresAt = &exp
	}

	if err := repo.Create(ctx, k); err != nil {
		return nil, err
	}

	payload := wire.BootstrapPayload{
		DoctorID:     doctorID,
		Key:          base64.StdEncoding.EncodeToString(raw),
		KeyID:        id,
		PairingToken: base64.URLEncoding.EncodeToString(token),
	}
	text, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	return &PairingResult{Key: k, Payload: text, Pin: pin}, nil
}

// VerifyPairing confirms a scanned payload on behalf of the doctor it was
// issued to. The payload must match the stored key material (and pairing
// token, if present) and pin must match the PIN handed out at creation.
// After MaxPinAttempts wrong PINs the pairing expires.
func (s *KeyService) VerifyPairing(ctx context.Context, callerID string, payload *wire.BootstrapPayload, pin string) (*models.RelationshipKey, error) {
	if err := payload.Check(); err != nil {
		return nil, err
	}
	if !wire.SameIdentity(payload.DoctorID, callerID) {
		s.audit.Record(ctx, models.ActionPairingScan, callerID, payload.KeyID, models.ResultFailed, "ownership mismatch")
		return nil, common.ErrOwnershipMismatch
	}

	material, err := payload.KeyMaterial()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(material)

	k, err := s.resolve(ctx, callerID, payload, material)
	if err != nil {
		s.audit.Record(ctx, models.ActionPairingScan, callerID, payload.KeyID, models.ResultFailed, common.Kind(err))
		return nil, err
	}
	s.audit.Record(ctx, models.ActionPairingScan, callerID, k.ID, models.ResultOK, "")

	if k.VerifiedAt != nil && k.Status == keys.StatusActive {
		s.audit.Record(ctx, models.ActionPairingVerifyPin, callerID, k.ID, models.ResultOK, "already verified")
		return k, nil
	}

	var outcome error
	err = dbx.WithTxRetry(ctx, s.db, nil, dbx.DefaultConflictAttempts, func(ctx context.Context, tx dbx.DBTX) error {
		outcome = nil
		repo := s.repomanager.Keys(tx)

		locked, err := repo.GetByIDForUpdate(ctx, k.ID)
		if err != nil {
			return err
		}
		if locked.VerifiedAt != nil && locked.Status == keys.StatusActive {
			k = locked
			return nil
		}
		if err := s.pairable(locked); err != nil {
			outcome = err
			return nil
		}

		if !cryptox.VerifyPin(pin, locked.PinSalt, locked.PinHash) {
			attempts, err := repo.IncrementPinAttempts(ctx, locked.ID)
			if err != nil {
				return err
			}
			outcome = common.ErrPinRejected
			if attempts >= s.policy.MaxPinAttempts {
				if err := repo.UpdateStatus(ctx, locked.ID, keys.StatusInactive, nil); err != nil {
					return err
				}
				locked.Status = keys.StatusInactive
				outcome = common.ErrPairingExpired
			}
			return nil
		}

		now := s.clock.Now()
		if err := repo.MarkVerified(ctx, locked.ID, now); err != nil {
			return err
		}
		locked.VerifiedAt = &now
		locked.PairingTokenHash, locked.PinHash, locked.PinSalt = nil, nil, nil
		k = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome != nil {
		s.audit.Record(ctx, models.ActionPairingVerifyPin, callerID, k.ID, models.ResultFailed, common.Kind(outcome))
		if errors.Is(outcome, common.ErrPairingExpired) {
			s.audit.Record(ctx, models.ActionPairingExpire, callerID, k.ID, models.ResultOK, "pin attempts exhausted")
			s.logger.Warn(ctx, "pairing expired after failed PIN attempts", "key_id", k.ID)
		}
		return nil, outcome
	}

	s.audit.Record(ctx, models.ActionPairingVerifyPin, callerID, k.ID, models.ResultOK, "")
	s.logger.Info(ctx, "pairing verified", "key_id", k.ID, "doctor_id", k.DoctorID)
	return k, nil
}

// resolve finds the key a payload refers to and checks that its material and
// pairing token match. Mismatches read as NotFound so a guessed key id
// reveals nothing.
func (s *KeyService) resolve(ctx context.Context, callerID string, payload *wire.BootstrapPayload, material []byte) (*models.RelationshipKey, error) {
	repo := s.repomanager.Keys(s.db)

	var candidates []*models.RelationshipKey
	if payload.KeyID != "" {
		k, err := repo.GetByID(ctx, payload.KeyID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, k)
	} else {
		list, err := repo.ListUnverifiedByDoctor(ctx, normalize(callerID))
		if err != nil {
			return nil, err
		}
		candidates = list
	}

	for _, k := range candidates {
		if !wire.SameIdentity(k.DoctorID, callerID) {
			if payload.KeyID != "" {
				return nil, common.ErrOwnershipMismatch
			}
			continue
		}
		if !s.materialMatches(k, material) {
			continue
		}
		if payload.PairingToken != "" && k.VerifiedAt == nil {
			token, err := base64.URLEncoding.DecodeString(payload.PairingToken)
			if err != nil || subtle.ConstantTimeCompare(cryptox.HashToken(token), k.PairingTokenHash) != 1 {
				continue
			}
		}
		return k, nil
	}
	return nil, common.ErrorNotFound
}

func (s *KeyService) materialMatches(k *models.RelationshipKey, material []byte) bool {
	raw, err := s.wrapper.Unwrap(k.ID, k.WrappedKey)
	if err != nil {
		return false
	}
	defer common.WipeByteArray(raw)
	return subtle.ConstantTimeCompare(raw, material) == 1
}

// pairable reports why a key can no longer be paired, if it cannot.
func (s *KeyService) pairable(k *models.RelationshipKey) error {
	switch k.Status {
	case keys.StatusRevoked:
		return common.ErrKeyRevoked
	case keys.StatusInactive:
		return common.ErrPairingExpired
	}
	if keys.ComputeExpiryStatus(k.Status, k.ExpiresAt, s.clock.Now()) == keys.ExpiryExpired {
		return common.ErrPairingExpired
	}
	return nil
}

// ListConnections returns the verified relationships of callerID.
func (s *KeyService) ListConnections(ctx context.Context, callerID string) ([]*models.RelationshipKey, error) {
	return s.repomanager.Keys(s.db).ListConnections(ctx, callerID)
}

// FetchMaterial re-serves raw key material to a party of a verified,
// still-decryptable key. Callers must wipe the returned slice.
func (s *KeyService) FetchMaterial(ctx context.Context, callerID, keyID string) ([]byte, *models.RelationshipKey, error) {
	k, err := s.repomanager.Keys(s.db).GetByID(ctx, keyID)
	if err != nil {
		return nil, nil, err
	}
	if !k.IsParty(callerID) {
		return nil, nil, common.ErrorForbidden
	}
	if k.VerifiedAt == nil {
		return nil, nil, fmt.Errorf("%w: pairing not confirmed", common.ErrorForbidden)
	}
	if !keys.IsDecryptable(k.Status, k.GraceUntil, s.clock.Now()) {
		return nil, nil, common.ErrKeyRevoked
	}

	raw, err := s.wrapper.Unwrap(k.ID, k.WrappedKey)
	if err != nil {
		s.logger.Error(ctx, "stored key does not unwrap", "key_id", k.ID, "error", err)
		return nil, nil, common.ErrorInternal
	}
	s.logger.Info(ctx, "key material served", "key_id", k.ID, "caller", callerID)
	return raw, k, nil
}

// Revoke marks the key revoked. Revoking an already revoked key succeeds.
func (s *KeyService) Revoke(ctx context.Context, callerID, keyID string) error {
	repo := s.repomanager.Keys(s.db)

	k, err := repo.GetByID(ctx, keyID)
	if err != nil {
		return err
	}
	if !k.IsParty(callerID) {
		return common.ErrorForbidden
	}
	if k.Status == keys.StatusRevoked {
		return nil
	}

	if err := repo.UpdateStatus(ctx, keyID, keys.StatusRevoked, nil); err != nil {
		return err
	}
	s.audit.Record(ctx, models.ActionKeyRevoke, callerID, keyID, models.ResultOK, "")
	s.logger.Info(ctx, "key revoked", "key_id", keyID)
	return nil
}

// Delete hard-deletes the key. Files sealed under it become unreadable.
func (s *KeyService) Delete(ctx context.Context, callerID, keyID string) error {
	repo := s.repomanager.Keys(s.db)

	k, err := repo.GetByID(ctx, keyID)
	if err != nil {
		return err
	}
	if !k.IsParty(callerID) {
		return common.ErrorForbidden
	}

	if err := repo.Delete(ctx, keyID); err != nil {
		s.audit.Record(ctx, models.ActionKeyDelete, callerID, keyID, models.ResultFailed, common.Kind(err))
		return err
	}
	s.audit.Record(ctx, models.ActionKeyDelete, callerID, keyID, models.ResultOK, "")
	s.logger.Info(ctx, "key deleted", "key_id", keyID)
	return nil
}

// Rotate retires an Active key into its grace window and issues a new
// Active key for the same pair, in one transaction. When the old key was
// verified the new one is verified too, so new uploads can use it at once.
func (s *KeyService) Rotate(ctx context.Context, callerID, keyID string) (*PairingResult, error) {
	var res *PairingResult

	err := dbx.WithTxRetry(ctx, s.db, nil, dbx.DefaultConflictAttempts, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Keys(tx)

		old, err := repo.GetByIDForUpdate(ctx, keyID)
		if err != nil {
			return err
		}
		if !old.IsParty(callerID) {
			return common.ErrorForbidden
		}
		switch old.Status {
		case keys.StatusRevoked:
			return common.ErrKeyRevoked
		case keys.StatusInactive:
			return fmt.Errorf("%w: key already retired", common.ErrorValidation)
		}

		grace := s.clock.Now().Add(s.policy.RotationGrace)
		if err := repo.UpdateStatus(ctx, old.ID, keys.StatusInactive, &grace); err != nil {
			return err
		}

		res, err = s.issue(ctx, repo, old.DoctorID, old.PatientID)
		if err != nil || old.VerifiedAt == nil {
			return err
		}

		// the pair already confirmed each other; the replacement inherits that
		now := s.clock.Now()
		if err := repo.MarkVerified(ctx, res.Key.ID, now); err != nil {
			return err
		}
		res.Key.VerifiedAt = &now
		res.Key.PairingTokenHash, res.Key.PinHash, res.Key.PinSalt = nil, nil, nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, models.ActionKeyRotate, callerID, keyID, models.ResultOK, "replaced by "+res.Key.ID)
	s.audit.Record(ctx, models.ActionKeyGenerate, callerID, res.Key.ID, models.ResultOK, "")
	s.audit.Record(ctx, models.ActionPairingCreate, callerID, res.Key.ID, models.ResultOK, "")
	s.logger.Info(ctx, "key rotated", "old_key_id", keyID, "new_key_id", res.Key.ID)
	return res, nil
}

// SweepExpired retires Active keys past their expiry and revokes retired
// keys whose grace window closed. Stored status only changes here and via
// explicit revoke.
func (s *KeyService) SweepExpired(ctx context.Context) (*SweepReport, error) {
	repo := s.repomanager.Keys(s.db)
	now := s.clock.Now()

	expired, err := repo.ExpireActive(ctx, now, now.Add(s.policy.RotationGrace))
	if err != nil {
		return nil, err
	}
	for _, k := range expired {
		s.audit.Record(ctx, models.ActionPairingExpire, systemActor, k.ID, models.ResultOK, "expired")
	}

	revoked, err := repo.RevokePastGrace(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, id := range revoked {
		s.audit.Record(ctx, models.ActionKeyRevoke, systemActor, id, models.ResultOK, "grace window closed")
	}

	if len(expired) > 0 || len(revoked) > 0 {
		s.logger.Info(ctx, "key sweep", "expired", len(expired), "revoked", len(revoked))
	}
	return &SweepReport{Expired: len(expired), Revoked: len(revoked)}, nil
}

func normalize(id string) string {
	return strings.TrimSpace(id)
}
