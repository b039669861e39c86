// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// TOTP parameters (RFC 6238 defaults).
const (
	totpSecretBytes = 20
	totpDigits      = 6
	totpPeriod      = 30 // seconds
	totpSkew        = 1  // accepted steps either side of now
)

// totpEncoding is unpadded base32, the form authenticator apps expect.
var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret creates a random TOTP seed and its base32 encoding.
func GenerateTOTPSecret() (secret []byte, encoded string, err error) {
	secret = make([]byte, totpSecretBytes)
	if _, err = rand.Read(secret); err != nil {
		return nil, "", oops.Code("MFA_SECRET_GENERATE_FAILED").Wrap(err)
	}
	return secret, totpEncoding.EncodeToString(secret), nil
}

// DecodeTOTPSecret decodes a stored base32 TOTP seed.
func DecodeTOTPSecret(encoded string) ([]byte, error) {
	secret, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(encoded)))
	if err != nil {
		return nil, oops.Code("MFA_SECRET_INVALID").Wrap(err)
	}
	if len(secret) == 0 {
		return nil, oops.Code("MFA_SECRET_INVALID").Errorf("empty totp secret")
	}
	return secret, nil
}

// TOTPProvisionURI builds the otpauth:// payload encoded into an
// enrollment QR code.
func TOTPProvisionURI(secretBase32, issuer, account string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(totpPeriod))
	v.Set("digits", strconv.Itoa(totpDigits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyTOTP checks a code against the secret for the time window around
// now, accepting totpSkew steps of clock drift either way. The code
// comparison is constant-time.
func VerifyTOTP(secret []byte, code string, now time.Time) bool {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != totpDigits || !isDigits(trimmed) {
		return false
	}
	if len(secret) == 0 {
		return false
	}

	baseCounter := now.Unix() / totpPeriod
	for step := -totpSkew; step <= totpSkew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotpCode(secret, counter)), []byte(trimmed)) == 1 {
			return true
		}
	}
	return false
}

// totpCodeAt computes the expected code for a specific time. Exposed for
// enrollment confirmation tests.
func totpCodeAt(secret []byte, at time.Time) string {
	return hotpCode(secret, at.Unix()/totpPeriod)
}

// hotpCode computes an RFC 4226 HMAC-SHA1 one-time code.
func hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3.
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", totpDigits, value%mod)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
