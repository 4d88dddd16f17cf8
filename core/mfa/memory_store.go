package mfa

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryRecord struct {
	cred  Credential
	codes []BackupCode
}

// MemoryStore is a Store kept in process memory. It suits tests and
// single-instance deployments where losing enrollments on restart is acceptable.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func (s *MemoryStore) GetCredential(ctx context.Context, userID string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cloneCredential(rec.cred), nil
}

func (s *MemoryStore) SaveEnrollment(ctx context.Context, cred Credential, codes []BackupCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[cred.UserID]; ok && rec.cred.Enabled {
		return ErrCredentialConflict
	}
	s.records[cred.UserID] = &memoryRecord{
		cred:  cloneCredential(cred),
		codes: slices.Clone(codes),
	}
	return nil
}

func (s *MemoryStore) UpdateCredential(ctx context.Context, cred Credential, expect CredentialVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[cred.UserID]
	if !ok {
		return ErrCredentialNotFound
	}
	if !rec.cred.matches(expect) {
		return ErrCredentialConflict
	}
	rec.cred.Enabled = cred.Enabled
	rec.cred.LastVerifiedAt = cred.LastVerifiedAt
	rec.cred.LastUsedCounter = cred.LastUsedCounter
	return nil
}

func (s *MemoryStore) ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	rec.codes = slices.Clone(codes)
	return nil
}

func (s *MemoryStore) ConsumeBackupCode(ctx context.Context, userID, hash string, t time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return false, nil
	}
	for i := range rec.codes {
		if rec.codes[i].Hash == hash && !rec.codes[i].Used() {
			rec.codes[i].UsedAt = t
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, c := range rec.codes {
		if !c.Used() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteCredential(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, userID)
	return nil
}

// BackupCodes returns a copy of the user's stored codes. Intended for tests and admin tooling.
func (s *MemoryStore) BackupCodes(userID string) []BackupCode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil
	}
	return slices.Clone(rec.codes)
}

func cloneCredential(c Credential) Credential {
	c.EncryptedSecret = slices.Clone(c.EncryptedSecret)
	return c
}
