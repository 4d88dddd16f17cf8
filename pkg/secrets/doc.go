// Package secrets provides AES-256-GCM encryption with compound key derivation for secure data storage.
//
// This package combines application and workspace keys using HKDF (HMAC-based Key Derivation Function)
// to create encryption keys. In the MFA subsystem the workspace key is the tenant key, so TOTP
// secrets of one clinic cannot be decrypted with another clinic's key material.
//
// # Security Model
//
// The package implements a compound key system where:
//   - Application key: Global secret shared across the application
//   - Workspace key: Tenant/workspace-specific secret
//   - Derived key: HKDF-derived key combining both inputs, bound to a purpose label
//
// DeriveKey with distinct labels yields independent subkeys, which is how the backup code
// hashing pepper is obtained without configuring a third secret.
//
// # Usage
//
//	appKey, _ := secrets.GenerateKey()
//	workspaceKey, _ := secrets.GenerateKey()
//
//	// One-shot helpers
//	ciphertext, err := secrets.EncryptString(appKey, workspaceKey, "sensitive")
//	plaintext, err := secrets.DecryptString(appKey, workspaceKey, ciphertext)
//
//	// Long-lived cipher: derives the data key once
//	c, err := secrets.NewCipher(appKey, workspaceKey)
//	sealed, err := c.Encrypt([]byte("JBSWY3DPEHPK3PXP"))
//	opened, err := c.Decrypt(sealed)
//
// # Error Handling
//
//   - ErrInvalidAppKey: App key is not 32 bytes
//   - ErrInvalidWorkspaceKey: Workspace key is not 32 bytes
//   - ErrKeyDerivationFailed: HKDF key derivation failed
//   - ErrEncryptionFailed: AES-GCM encryption failed
//   - ErrDecryptionFailed: AES-GCM authentication failed (tampering or wrong key pair)
//   - ErrInvalidCiphertext: Ciphertext format invalid or truncated
//
// Callers treat ErrDecryptionFailed and ErrInvalidCiphertext as a corrupt record, never as
// a transient fault.
package secrets
