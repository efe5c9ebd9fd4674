package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/dbx"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
	auditrepo "github.com/dmitrijs2005/clinicvault/internal/server/repositories/audit"
	"github.com/dmitrijs2005/clinicvault/internal/server/repositories/files"
	keyrepo "github.com/dmitrijs2005/clinicvault/internal/server/repositories/keys"
	"github.com/dmitrijs2005/clinicvault/internal/server/repositories/repomanager"
)

// -------- test fakes --------

type fakeKeysRepo struct {
	keyrepo.Repository

	mu   sync.Mutex
	rows map[string]*models.RelationshipKey
	err  error
}

func newFakeKeysRepo() *fakeKeysRepo {
	return &fakeKeysRepo{rows: map[string]*models.RelationshipKey{}}
}

func clone(k *models.RelationshipKey) *models.RelationshipKey {
	c := *k
	return &c
}

func (f *fakeKeysRepo) activeExists(doctorID, patientID, exceptID string) bool {
	for _, r := range f.rows {
		if r.ID != exceptID && strings.EqualFold(r.DoctorID, doctorID) && strings.EqualFold(r.PatientID, patientID) && r.Status == keys.StatusActive {
			return true
		}
	}
	return false
}

func (f *fakeKeysRepo) Create(ctx context.Context, k *models.RelationshipKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if k.Status == keys.StatusActive && f.activeExists(k.DoctorID, k.PatientID, "") {
		return common.ErrDuplicatePairing
	}
	f.rows[k.ID] = clone(k)
	return nil
}

func (f *fakeKeysRepo) GetByID(ctx context.Context, id string) (*models.RelationshipKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(r), nil
}

func (f *fakeKeysRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.RelationshipKey, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeKeysRepo) FindActive(ctx context.Context, doctorID, patientID string) (*models.RelationshipKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if strings.EqualFold(r.DoctorID, doctorID) && strings.EqualFold(r.PatientID, patientID) && r.Status == keys.StatusActive {
			return clone(r), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeKeysRepo) sorted(pred func(*models.RelationshipKey) bool) []*models.RelationshipKey {
	var out []*models.RelationshipKey
	for _, r := range f.rows {
		if pred(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) || out[i].ID < out[j].ID })
	return out
}

func (f *fakeKeysRepo) ListUnverifiedByDoctor(ctx context.Context, doctorID string) ([]*models.RelationshipKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(r *models.RelationshipKey) bool {
		return strings.EqualFold(r.DoctorID, doctorID) && r.Status == keys.StatusActive && r.VerifiedAt == nil
	}), nil
}

func (f *fakeKeysRepo) ListConnections(ctx context.Context, userID string) ([]*models.RelationshipKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(r *models.RelationshipKey) bool {
		return (strings.EqualFold(r.DoctorID, userID) || strings.EqualFold(r.PatientID, userID)) && r.VerifiedAt != nil
	}), nil
}

func (f *fakeKeysRepo) UpdateStatus(ctx context.Context, id string, status keys.Status, graceUntil *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	if status == keys.StatusActive && f.activeExists(r.DoctorID, r.PatientID, id) {
		return common.ErrDuplicatePairing
	}
	r.Status = status
	r.GraceUntil = graceUntil
	return nil
}

func (f *fakeKeysRepo) MarkVerified(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	r.VerifiedAt = &at
	r.PairingTokenHash, r.PinHash, r.PinSalt = nil, nil, nil
	return nil
}

func (f *fakeKeysRepo) IncrementPinAttempts(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return 0, common.ErrorNotFound
	}
	r.PinAttempts++
	return r.PinAttempts, nil
}

func (f *fakeKeysRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeKeysRepo) ExpireActive(ctx context.Context, now time.Time, graceUntil time.Time) ([]*models.RelationshipKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RelationshipKey
	for _, r := range f.rows {
		if r.Status == keys.StatusActive && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			g := graceUntil
			r.Status = keys.StatusInactive
			r.GraceUntil = &g
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (f *fakeKeysRepo) RevokePastGrace(ctx context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, r := range f.rows {
		if r.Status == keys.StatusInactive && (r.GraceUntil == nil || !r.GraceUntil.After(now)) {
			r.Status = keys.StatusRevoked
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeKeysRepo) get(id string) *models.RelationshipKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		return clone(r)
	}
	return nil
}

type fakeFilesRepo struct {
	files.Repository

	mu        sync.Mutex
	rows      map[string]*models.EncryptedFile
	createErr error
}

func newFakeFilesRepo() *fakeFilesRepo {
	return &fakeFilesRepo{rows: map[string]*models.EncryptedFile{}}
}

func (f *fakeFilesRepo) Create(ctx context.Context, file *models.EncryptedFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	c := *file
	f.rows[file.ID] = &c
	return nil
}

func (f *fakeFilesRepo) GetByID(ctx context.Context, id string) (*models.EncryptedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeFilesRepo) Confirm(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok || r.UploadState != models.UploadPending {
		return common.ErrorNotFound
	}
	r.UploadState = models.UploadConfirmed
	r.ConfirmedAt = &at
	return nil
}

func (f *fakeFilesRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeFilesRepo) ListConfirmed(ctx context.Context, userID, keyID string) ([]*models.EncryptedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.EncryptedFile
	for _, r := range f.rows {
		if (strings.EqualFold(r.OwnerID, userID) || strings.EqualFold(r.RecipientID, userID)) && r.UploadState == models.UploadConfirmed &&
			(keyID == "" || r.KeyID == keyID) {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeFilesRepo) ListPendingBefore(ctx context.Context, before time.Time) ([]*models.EncryptedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.EncryptedFile
	for _, r := range f.rows {
		if r.UploadState == models.UploadPending && r.CreatedAt.Before(before) {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	k *fakeKeysRepo
	f *fakeFilesRepo
}

func (m *fakeRepoManager) Keys(db dbx.DBTX) keyrepo.Repository    { return m.k }
func (m *fakeRepoManager) Files(db dbx.DBTX) files.Repository     { return m.f }
func (m *fakeRepoManager) Audit(db dbx.DBTX) auditrepo.Repository { return nil }

type recorded struct {
	Action, Actor, Target, Result, Detail string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *fakeRecorder) Record(ctx context.Context, action, actor, target, result, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{action, actor, target, result, detail})
}

func (r *fakeRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action+":"+e.Result)
	}
	return out
}

func (r *fakeRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// -------- helpers --------

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func expectCommits(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

// failingLockRepo fails row locking and, when sweepErr is set, the expiry sweep.
type failingLockRepo struct {
	*fakeKeysRepo
	sweepErr error
}

func (f *failingLockRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.RelationshipKey, error) {
	return nil, errors.New("lock timeout")
}

func (f *failingLockRepo) ExpireActive(ctx context.Context, now time.Time, graceUntil time.Time) ([]*models.RelationshipKey, error) {
	if f.sweepErr != nil {
		return nil, f.sweepErr
	}
	return f.fakeKeysRepo.ExpireActive(ctx, now, graceUntil)
}

type lockFailManager struct {
	repomanager.RepositoryManager
	repo keyrepo.Repository
}

func (m lockFailManager) Keys(db dbx.DBTX) keyrepo.Repository { return m.repo }
