package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	// Digits and Period follow the RFC 6238 defaults every authenticator app
	// supports. Changing them would break enrolled devices.
	Digits = 6
	Period = 30

	// DefaultWindow accepts the previous and next time step to absorb small
	// clock drift. Widening it linearly weakens brute-force resistance, so it
	// is not configurable.
	DefaultWindow = 1
)

var validCode = regexp.MustCompile(`^\d{6}$`)

// hotp implements RFC 4226: HMAC-SHA1 over the big-endian counter, dynamic
// truncation to 31 bits, reduced to six decimal digits.
func hotp(key []byte, counter uint64) string {
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(counterBytes[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := (uint32(sum[offset]&0x7f) << 24) |
		(uint32(sum[offset+1]) << 16) |
		(uint32(sum[offset+2]) << 8) |
		uint32(sum[offset+3])

	return fmt.Sprintf("%06d", code%1000000)
}

// GenerateCode computes the code for the time step containing t.
func GenerateCode(secret string, t time.Time) (string, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, uint64(t.Unix()/Period)), nil
}

// VerifyCode reports whether code matches the secret for the current time
// step or one step either side. Comparison is constant time per candidate;
// a mismatch never reveals which step was tried.
func VerifyCode(secret, code string) (bool, error) {
	return VerifyCodeAt(secret, code, time.Now(), DefaultWindow)
}

func VerifyCodeAt(secret, code string, t time.Time, window int) (bool, error) {
	code = strings.TrimSpace(code)
	if !validCode.MatchString(code) {
		return false, ErrMalformedCode
	}

	key, err := DecodeSecret(secret)
	if err != nil {
		return false, err
	}

	step := t.Unix() / Period
	for i := -window; i <= window; i++ {
		candidate := hotp(key, uint64(step+int64(i)))
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// ProvisioningURI renders the otpauth URI that authenticator apps consume as a
// QR code. QR rendering itself happens client-side.
func ProvisioningURI(secret, issuer, accountName string) string {
	return fmt.Sprintf(
		"otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=%d&period=%d",
		url.PathEscape(issuer),
		url.PathEscape(accountName),
		secret,
		url.QueryEscape(issuer),
		Digits,
		Period,
	)
}
