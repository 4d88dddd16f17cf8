// Package mfa implements TOTP second-factor authentication for the CRM.
//
// Service is the entry point. It provisions secrets, verifies TOTP and backup
// codes, and issues sessions in a session.Registry, which is the only place
// that decides whether a user is MFA-verified.
//
// # Lifecycle
//
//	unenrolled --GenerateSecret--> pending --VerifyCode ok--> active
//	pending    --GenerateSecret--> pending (new secret, old one discarded)
//	active     --Disable--------> unenrolled (credential, codes and sessions removed)
//
// Backup codes are issued at enrollment but accepted only once MFA is active.
//
// # Usage
//
//	cipher, _ := secrets.NewCipher(appKey, tenantKey)
//	pepper, _ := secrets.DeriveKey(appKey, tenantKey, "mfa/backup-codes/v1")
//	hasher, _ := totp.NewBackupCodeHasher(pepper)
//	registry := session.NewRegistry()
//
//	svc, err := mfa.NewService(mfa.NewMemoryStore(), cipher, hasher, registry,
//		mfa.WithIssuer("Acme Clinic"),
//		mfa.WithAuditSink(mfa.NewLogAuditSink(log)),
//	)
//
//	enr, err := svc.GenerateSecret(ctx, userID, "doctor@acme.example")
//	// show enr.ProvisioningURI and enr.BackupCodes once
//
//	res, err := svc.VerifyCode(ctx, userID, "287082")
//	switch {
//	case err != nil:
//		// infrastructure or state fault: ErrPersistenceUnavailable, ErrNotEnrolled, ErrCorruptCredential
//	case res.Verified():
//		// hand res.SessionToken to the client
//	default:
//		// res.Err() is ErrInvalidCode or ErrTooManyAttempts
//	}
//
//	if !svc.GetSessionForToken(userID, token).Valid {
//		// re-challenge
//	}
//
// # Error Handling
//
// A wrong code is an expected outcome and is reported in VerifyResult, never as
// an error. Errors are reserved for faults: store failures and timeouts are
// ErrPersistenceUnavailable (retryable) and never turn into a success; a secret
// that cannot be decrypted is ErrCorruptCredential and requires re-enrollment.
//
// # Concurrency
//
// Operations for one user are serialized by a per-user lock; different users
// never contend. Backup-code consumption is additionally atomic in every Store
// implementation, so a code is spent at most once even across processes.
//
// Audit records and status events are delivered on background goroutines.
// Close waits for them.
package mfa
