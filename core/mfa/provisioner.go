package mfa

import (
	"context"
	"errors"

	"github.com/dmitrymomot/mfa/pkg/totp"
)

// Provisioner creates pending TOTP credentials.
type Provisioner struct {
	store Store
	enc   Encryptor
	vault *Vault
	opts  options
}

// NewProvisioner creates a provisioner. The vault supplies backup codes.
func NewProvisioner(store Store, enc Encryptor, vault *Vault, opts ...Option) (*Provisioner, error) {
	if store == nil || enc == nil || vault == nil {
		return nil, ErrInvalidConfig
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Provisioner{store: store, enc: enc, vault: vault, opts: o}, nil
}

// Enroll generates a secret and backup codes and persists them as a pending
// credential, replacing any previous one. The credential and codes are written
// together or not at all.
func (p *Provisioner) Enroll(ctx context.Context, userID, accountLabel string) (Enrollment, error) {
	if userID == "" {
		return Enrollment{}, ErrInvalidUserID
	}
	if accountLabel == "" {
		accountLabel = userID
	}

	now := p.opts.now()

	secret, err := totp.GenerateSecretKeyFrom(p.opts.entropy)
	if err != nil {
		return Enrollment{}, errors.Join(ErrProvisioningFailed, err)
	}

	uri, err := totp.GetTOTPURI(totp.TOTPParams{
		Secret:      secret,
		AccountName: accountLabel,
		Issuer:      p.opts.issuer,
	})
	if err != nil {
		return Enrollment{}, errors.Join(ErrProvisioningFailed, err)
	}

	// The secret must round-trip through the verifier before it is handed out.
	code, err := totp.GenerateCodeAt(secret, now)
	if err != nil {
		return Enrollment{}, errors.Join(ErrProvisioningFailed, err)
	}
	if ok, err := totp.Verify(secret, code, now); err != nil || !ok {
		return Enrollment{}, errors.Join(ErrProvisioningFailed, err)
	}

	sealed, err := p.enc.Encrypt([]byte(secret))
	if err != nil {
		return Enrollment{}, errors.Join(ErrProvisioningFailed, err)
	}

	codes, set, err := p.vault.newSet(now)
	if err != nil {
		return Enrollment{}, errors.Join(ErrProvisioningFailed, err)
	}

	cred := Credential{
		UserID:          userID,
		EncryptedSecret: sealed,
		Enabled:         false,
		CreatedAt:       now,
	}

	sctx, cancel := bounded(ctx, p.opts.storeTimeout)
	defer cancel()

	if err := p.store.SaveEnrollment(sctx, cred, set); err != nil {
		return Enrollment{}, errors.Join(ErrProvisioningFailed, storeErr(err))
	}

	return Enrollment{
		Secret:          secret,
		ProvisioningURI: uri,
		BackupCodes:     codes,
	}, nil
}
