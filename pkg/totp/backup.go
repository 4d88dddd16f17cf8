package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// BackupCodeCount is the number of backup codes issued per enrollment cycle.
	BackupCodeCount = 10
	// BackupCodeDigits is the length of a backup code.
	BackupCodeDigits = 8

	backupCodeSpace = 100_000_000
	// rejectionLimit is the largest multiple of backupCodeSpace below 2^32.
	// Values at or above it are redrawn to keep the distribution uniform.
	rejectionLimit = 42 * backupCodeSpace
)

// GenerateBackupCodes returns count unique 8-digit codes read from crypto/rand.
func GenerateBackupCodes(count int) ([]string, error) {
	return GenerateBackupCodesFrom(rand.Reader, count)
}

// GenerateBackupCodesFrom returns count unique 8-digit codes read from r.
func GenerateBackupCodesFrom(r io.Reader, count int) ([]string, error) {
	if r == nil || count <= 0 {
		return nil, ErrBackupCodeGeneration
	}

	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	var buf [4]byte
	for len(codes) < count {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, errors.Join(ErrBackupCodeGeneration, err)
		}
		n := binary.BigEndian.Uint32(buf[:])
		if n >= rejectionLimit {
			continue
		}
		code := fmt.Sprintf("%08d", n%backupCodeSpace)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	return codes, nil
}

// BackupCodeHasher derives deterministic keyed hashes for backup codes.
// The key (pepper) never leaves the server, so a leaked hash table cannot be
// brute-forced over the 10^8 code space without it.
type BackupCodeHasher struct {
	key []byte
}

// NewBackupCodeHasher returns a hasher keyed with key. The key is copied.
func NewBackupCodeHasher(key []byte) (*BackupCodeHasher, error) {
	if len(key) < 16 {
		return nil, ErrWeakHashKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &BackupCodeHasher{key: k}, nil
}

// Hash returns the hex encoded HMAC-SHA256 of the normalized code.
// The boolean is false when the input is not an 8-digit code.
func (h *BackupCodeHasher) Hash(code string) (string, bool) {
	normalized, ok := NormalizeCode(code, BackupCodeDigits)
	if !ok {
		return "", false
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil)), true
}

// Matches reports in constant time whether code hashes to hash.
func (h *BackupCodeHasher) Matches(code, hash string) bool {
	got, ok := h.Hash(code)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}
