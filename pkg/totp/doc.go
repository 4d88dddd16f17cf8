// Package totp provides RFC 6238 compliant Time-based One-Time Password (TOTP) verification,
// secret provisioning and single-use backup codes.
//
// The package is pure: no function performs I/O beyond reading from the supplied entropy
// source, and nothing holds shared state. That makes it safe to call from any number of
// goroutines and deterministic to test against the RFC test vectors.
//
// All codes use the authenticator-app compatible profile: SHA1, 6 digits, 30 second period.
//
// # Basic Usage
//
//	import "github.com/dmitrymomot/mfa/pkg/totp"
//
//	// Generate a new 160-bit secret (base32, no padding)
//	secret, err := totp.GenerateSecretKey()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Build the provisioning URI for a QR code
//	uri, err := totp.GetTOTPURI(totp.TOTPParams{
//		Secret:      secret,
//		AccountName: "doctor@clinic.example",
//		Issuer:      "CarePulse",
//	})
//
//	// Validate a user-provided code with ±1 step skew tolerance
//	ok, err := totp.Verify(secret, "123456", time.Now())
//	if err != nil {
//		// secret is malformed: the credential must be re-enrolled
//	}
//
// A wrong code is never an error. Verify returns an error only for structurally invalid
// secrets (ErrMalformedSecret).
//
// # Replay Protection
//
// VerifyCounter reports which time step matched, so callers can reject a code for a step
// that was already accepted:
//
//	counter, ok, err := totp.VerifyCounter(secret, code, time.Now())
//	if ok && counter <= lastUsedCounter {
//		ok = false // replayed
//	}
//
// # Backup Codes
//
// Backup codes are 8 random decimal digits. Only keyed hashes are ever persisted:
//
//	codes, err := totp.GenerateBackupCodes(totp.BackupCodeCount)
//	hasher, err := totp.NewBackupCodeHasher(pepper)
//	for _, c := range codes {
//		h, _ := hasher.Hash(c)
//		hashes = append(hashes, h)
//	}
//
// User input is normalized before hashing: spaces and dashes are removed and full-width
// digits typed through an IME are folded to ASCII.
//
// # Time-based Testing
//
//	testTime := time.Unix(59, 0)
//	code, err := totp.GenerateCodeAt(secret, testTime)
package totp
