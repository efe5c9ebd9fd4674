package keystore

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/clinicvault/internal/client/repositories/keyhandles"
	"github.com/dmitrijs2005/clinicvault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/clinicvault/internal/clock"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/dbx"
)

const saltSize = 16

// sealedKey is the plaintext sealed into each row. The key id is bound
// inside so a row copied under another id fails to open.
type sealedKey struct {
	KeyID string `json:"key_id"`
	Key   []byte `json:"key"`
}

// SQLiteStore persists handles in the device database. Key bytes are sealed
// with AES-256-GCM under a wrapping key derived (argon2id) from a local
// passphrase; the passphrase itself is never stored.
//
// Opened keys are cached per user and key id, so every lookup of a key
// shares one *cryptox.Key and its seal counter for the life of the store.
type SQLiteStore struct {
	handles keyhandles.Repository
	wrapKey []byte
	clock   clock.Clock

	mu   sync.Mutex
	open map[string]*cryptox.Key
}

func cacheKey(user, keyID string) string { return user + "\x00" + keyID }

// OpenSQLite derives the wrapping key for db. On first use it creates a
// salt and a verifier; afterwards a wrong passphrase yields
// common.ErrorUnauthorized.
func OpenSQLite(ctx context.Context, db *sql.DB, passphrase []byte, clk clock.Clock) (*SQLiteStore, error) {
	var wrapKey []byte

	err := dbx.WithTxRetry(ctx, db, nil, dbx.DefaultConflictAttempts, func(ctx context.Context, tx dbx.DBTX) error {
		meta := metadata.NewSQLiteRepository(tx)

		u, err := meta.LoadUnlock(ctx)
		if errors.Is(err, common.ErrorNotFound) {
			salt := common.GenerateRandByteArray(saltSize)
			wrapKey = cryptox.DeriveMasterKey(passphrase, salt)
			return meta.InitUnlock(ctx, metadata.Unlock{Salt: salt, Verifier: cryptox.MakeVerifier(wrapKey)})
		}
		if err != nil {
			return err
		}

		candidate := cryptox.DeriveMasterKey(passphrase, u.Salt)
		if subtle.ConstantTimeCompare(cryptox.MakeVerifier(candidate), u.Verifier) != 1 {
			common.WipeByteArray(candidate)
			return fmt.Errorf("%w: wrong key store passphrase", common.ErrorUnauthorized)
		}
		wrapKey = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &SQLiteStore{
		handles: keyhandles.NewSQLiteRepository(db),
		wrapKey: wrapKey,
		clock:   clk,
		open:    make(map[string]*cryptox.Key),
	}, nil
}

// Close wipes the wrapping key. The store is unusable afterwards.
func (s *SQLiteStore) Close() {
	common.WipeByteArray(s.wrapKey)
	s.mu.Lock()
	clear(s.open)
	s.mu.Unlock()
}

func (s *SQLiteStore) Store(ctx context.Context, userID string, h *KeyHandle) error {
	if h == nil || h.Key == nil || h.KeyID == "" {
		return errors.New("keystore: incomplete key handle")
	}

	raw := h.Key.Bytes()
	defer common.WipeByteArray(raw)

	ct, nonce, err := cryptox.EncryptEntry(sealedKey{KeyID: h.KeyID, Key: raw}, s.wrapKey)
	if err != nil {
		return fmt.Errorf("seal key %s: %w", h.KeyID, err)
	}

	user := normalizeUser(userID)
	err = s.handles.Upsert(ctx, &keyhandles.Row{
		UserID:    user,
		KeyID:     h.KeyID,
		DoctorID:  h.DoctorID,
		PatientID: h.PatientID,
		SealedKey: ct,
		Nonce:     nonce,
		StoredAt:  s.clock.Now(),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.open[cacheKey(user, h.KeyID)] = h.Key
	s.mu.Unlock()
	return nil
}

func (s *SQLiteStore) Has(ctx context.Context, userID string) bool {
	ok, err := s.handles.Exists(ctx, normalizeUser(userID))
	return err == nil && ok
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) ([]*KeyHandle, error) {
	rows, err := s.handles.ListByUser(ctx, normalizeUser(userID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, common.ErrKeyAbsent
	}

	out := make([]*KeyHandle, 0, len(rows))
	for _, r := range rows {
		h, err := s.unseal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, userID, keyID string) (*KeyHandle, error) {
	r, err := s.handles.Get(ctx, normalizeUser(userID), keyID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrKeyAbsent
	}
	if err != nil {
		return nil, err
	}
	return s.unseal(r)
}

func (s *SQLiteStore) Remove(ctx context.Context, userID, keyID string) error {
	user := normalizeUser(userID)
	s.mu.Lock()
	delete(s.open, cacheKey(user, keyID))
	s.mu.Unlock()
	return s.handles.Delete(ctx, user, keyID)
}

func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	prefix := cacheKey(normalizeUser(userID), "")
	s.mu.Lock()
	for k := range s.open {
		if strings.HasPrefix(k, prefix) {
			delete(s.open, k)
		}
	}
	s.mu.Unlock()
	return s.handles.DeleteByUser(ctx, normalizeUser(userID))
}

func (s *SQLiteStore) unseal(r *keyhandles.Row) (*KeyHandle, error) {
	var sk sealedKey
	if err := cryptox.DecryptEntry(r.SealedKey, r.Nonce, s.wrapKey, &sk); err != nil {
		return nil, fmt.Errorf("open key %s: %w", r.KeyID, common.ErrDecryptionFailed)
	}
	defer common.WipeByteArray(sk.Key)

	if sk.KeyID != r.KeyID {
		return nil, fmt.Errorf("open key %s: %w", r.KeyID, common.ErrDecryptionFailed)
	}

	key, err := s.cached(r, sk.Key)
	if err != nil {
		return nil, fmt.Errorf("open key %s: %w", r.KeyID, err)
	}
	return &KeyHandle{KeyID: r.KeyID, DoctorID: r.DoctorID, PatientID: r.PatientID, Key: key}, nil
}

// cached returns the shared handle for the row, replacing it when the
// stored material no longer matches.
func (s *SQLiteStore) cached(r *keyhandles.Row, raw []byte) (*cryptox.Key, error) {
	ck := cacheKey(r.UserID, r.KeyID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.open[ck]; ok {
		held := k.Bytes()
		same := subtle.ConstantTimeCompare(held, raw) == 1
		common.WipeByteArray(held)
		if same {
			return k, nil
		}
	}

	k, err := cryptox.NewKey(r.KeyID, raw)
	if err != nil {
		return nil, err
	}
	s.open[ck] = k
	return k, nil
}
