package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"golang.org/x/text/width"
)

const (
	// Period is the time step in seconds.
	Period = 30
	// Digits is the number of digits in a generated code.
	Digits = 6
	// Algorithm is the HMAC hash advertised in provisioning URIs.
	Algorithm = "SHA1"
	// Skew is the number of time steps accepted on each side of the current one.
	Skew = 1

	// SecretBytes is the size of generated secrets (160 bits).
	SecretBytes = 20
	// MinSecretBytes is the shortest secret accepted for verification (80 bits, RFC 4226 §4).
	MinSecretBytes = 10
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

var hotpOpts = hotp.ValidateOpts{
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPParams describes a provisioning URI.
type TOTPParams struct {
	Secret      string
	AccountName string
	Issuer      string
}

// GenerateSecretKey returns a new base32 encoded secret read from crypto/rand.
func GenerateSecretKey() (string, error) {
	return GenerateSecretKeyFrom(rand.Reader)
}

// GenerateSecretKeyFrom returns a new base32 encoded secret read from r.
// A failing reader is reported as ErrSecretGeneration; there is no fallback source.
func GenerateSecretKeyFrom(r io.Reader) (string, error) {
	if r == nil {
		return "", ErrSecretGeneration
	}
	buf := make([]byte, SecretBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.Join(ErrSecretGeneration, err)
	}
	return b32.EncodeToString(buf), nil
}

// GetTOTPURI builds an otpauth:// URI understood by standard authenticator apps:
//
//	otpauth://totp/{issuer}:{account}?secret=...&issuer=...&algorithm=SHA1&digits=6&period=30
func GetTOTPURI(p TOTPParams) (string, error) {
	if p.Secret == "" || p.AccountName == "" || p.Issuer == "" {
		return "", ErrInvalidParams
	}
	if strings.Contains(p.Issuer, ":") || strings.Contains(p.AccountName, ":") {
		return "", ErrInvalidParams
	}
	secret, err := normalizeSecret(p.Secret)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("otpauth://totp/")
	sb.WriteString(url.PathEscape(p.Issuer))
	sb.WriteString(":")
	sb.WriteString(url.PathEscape(p.AccountName))
	sb.WriteString("?secret=")
	sb.WriteString(secret)
	sb.WriteString("&issuer=")
	sb.WriteString(queryEscape(p.Issuer))
	sb.WriteString("&algorithm=")
	sb.WriteString(Algorithm)
	sb.WriteString("&digits=")
	sb.WriteString(strconv.Itoa(Digits))
	sb.WriteString("&period=")
	sb.WriteString(strconv.Itoa(Period))
	return sb.String(), nil
}

// Counter returns the TOTP time step for t.
func Counter(t time.Time) uint64 {
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / Period
}

// GenerateCode returns the code for the current time step.
func GenerateCode(secret string) (string, error) {
	return GenerateCodeAt(secret, time.Now())
}

// GenerateCodeAt returns the code for the time step containing t.
func GenerateCodeAt(secret string, t time.Time) (string, error) {
	return GenerateCodeForCounter(secret, Counter(t))
}

// GenerateCodeForCounter returns the HOTP code for an explicit counter.
func GenerateCodeForCounter(secret string, counter uint64) (string, error) {
	s, err := normalizeSecret(secret)
	if err != nil {
		return "", err
	}
	code, err := hotp.GenerateCodeCustom(s, counter, hotpOpts)
	if err != nil {
		return "", errors.Join(ErrMalformedSecret, err)
	}
	return code, nil
}

// Verify reports whether code is valid for secret at time t, accepting the previous,
// current and next time step. A mismatch returns false with a nil error.
func Verify(secret, code string, t time.Time) (bool, error) {
	_, ok, err := VerifyCounter(secret, code, t)
	return ok, err
}

// VerifyCounter is like Verify but also returns the time step the code matched.
// Every step in the window is compared, so timing does not reveal which one matched.
func VerifyCounter(secret, code string, t time.Time) (uint64, bool, error) {
	s, err := normalizeSecret(secret)
	if err != nil {
		return 0, false, err
	}

	candidate, ok := NormalizeCode(code, Digits)
	if !ok {
		return 0, false, nil
	}

	current := Counter(t)
	var matched uint64
	var found bool
	for offset := -Skew; offset <= Skew; offset++ {
		var counter uint64
		if offset < 0 {
			if current < uint64(-offset) {
				continue
			}
			counter = current - uint64(-offset)
		} else {
			counter = current + uint64(offset)
		}

		expected, err := hotp.GenerateCodeCustom(s, counter, hotpOpts)
		if err != nil {
			return 0, false, errors.Join(ErrMalformedSecret, err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1 && !found {
			matched = counter
			found = true
		}
	}

	return matched, found, nil
}

// ValidateSecret reports ErrMalformedSecret for secrets that cannot be used for verification.
func ValidateSecret(secret string) error {
	_, err := normalizeSecret(secret)
	return err
}

// NormalizeCode strips whitespace and dashes, folds full-width digits to ASCII and
// reports whether the result is exactly n decimal digits.
func NormalizeCode(code string, n int) (string, bool) {
	code = width.Narrow.String(code)
	var sb strings.Builder
	sb.Grow(n)
	for _, r := range code {
		switch {
		case r == ' ' || r == '-' || r == '\t':
			continue
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			return "", false
		}
	}
	if sb.Len() != n {
		return "", false
	}
	return sb.String(), true
}

// normalizeSecret upper-cases the secret, removes spaces and padding and checks that
// it decodes to at least MinSecretBytes.
func normalizeSecret(secret string) (string, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return "", ErrMalformedSecret
	}
	raw, err := b32.DecodeString(s)
	if err != nil {
		return "", errors.Join(ErrMalformedSecret, err)
	}
	if len(raw) < MinSecretBytes {
		return "", ErrMalformedSecret
	}
	return s, nil
}

// queryEscape escapes a query value using %20 for spaces; several authenticator
// apps render a literal '+' otherwise.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
