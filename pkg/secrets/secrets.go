package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the required length of application and workspace keys.
const KeySize = 32

// encryptionInfo is the HKDF info label for data encryption keys.
const encryptionInfo = "secrets/aes-256-gcm/v1"

var (
	ErrInvalidAppKey       = errors.New("secrets: app key must be 32 bytes")
	ErrInvalidWorkspaceKey = errors.New("secrets: workspace key must be 32 bytes")
	ErrKeyDerivationFailed = errors.New("secrets: key derivation failed")
	ErrEncryptionFailed    = errors.New("secrets: encryption failed")
	ErrDecryptionFailed    = errors.New("secrets: decryption failed")
	ErrInvalidCiphertext   = errors.New("secrets: invalid ciphertext")
)

// GenerateKey returns a new random 32 byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Join(ErrKeyDerivationFailed, err)
	}
	return key, nil
}

// DeriveKey derives a 32 byte subkey bound to the info label from the compound
// app/workspace key pair. Distinct labels yield independent keys.
func DeriveKey(appKey, workspaceKey []byte, info string) ([]byte, error) {
	if err := validateKeys(appKey, workspaceKey); err != nil {
		return nil, err
	}
	r := hkdf.New(sha256.New, appKey, workspaceKey, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Join(ErrKeyDerivationFailed, err)
	}
	return key, nil
}

// EncryptBytes encrypts data with AES-256-GCM. Output layout: nonce || ciphertext || tag.
func EncryptBytes(appKey, workspaceKey, data []byte) ([]byte, error) {
	key, err := DeriveKey(appKey, workspaceKey, encryptionInfo)
	if err != nil {
		return nil, err
	}
	defer clear(key)
	return seal(key, data)
}

// DecryptBytes reverses EncryptBytes. Tampered data or a wrong key pair returns ErrDecryptionFailed.
func DecryptBytes(appKey, workspaceKey, data []byte) ([]byte, error) {
	key, err := DeriveKey(appKey, workspaceKey, encryptionInfo)
	if err != nil {
		return nil, err
	}
	defer clear(key)
	return open(key, data)
}

// EncryptString encrypts plaintext and returns it base64 encoded.
func EncryptString(appKey, workspaceKey []byte, plaintext string) (string, error) {
	out, err := EncryptBytes(appKey, workspaceKey, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptString reverses EncryptString.
func DecryptString(appKey, workspaceKey []byte, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Join(ErrInvalidCiphertext, err)
	}
	out, err := DecryptBytes(appKey, workspaceKey, raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Cipher holds a derived data key for repeated use with one key pair.
// It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the data key once and prepares the AEAD.
func NewCipher(appKey, workspaceKey []byte) (*Cipher, error) {
	key, err := DeriveKey(appKey, workspaceKey, encryptionInfo)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	return sealWith(c.aead, plaintext)
}

// Decrypt opens ciphertext produced by Encrypt or EncryptBytes with the same keys.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	return openWith(c.aead, ciphertext)
}

func validateKeys(appKey, workspaceKey []byte) error {
	if subtle.ConstantTimeEq(int32(len(appKey)), KeySize) != 1 {
		return ErrInvalidAppKey
	}
	if subtle.ConstantTimeEq(int32(len(workspaceKey)), KeySize) != 1 {
		return ErrInvalidWorkspaceKey
	}
	return nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	return aead, nil
}

func seal(key, data []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return sealWith(aead, data)
}

func open(key, data []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return openWith(aead, data)
}

func sealWith(aead cipher.AEAD, data []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	return aead.Seal(nonce, nonce, data, nil), nil
}

func openWith(aead cipher.AEAD, data []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(data) < ns+aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	out, err := aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}
	return out, nil
}
