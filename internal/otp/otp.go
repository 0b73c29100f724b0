// Package otp implements the time-based one-time passcodes used by the
// password-reset flow. Codes are derived from a per-user secret generated once
// at registration.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// Period matches the original application's 20-minute OTP window, wide
	// enough for a code delivered by email.
	Period = 1200 * time.Second

	codeLength = 6
	secretLen  = 10
)

// NewSecret returns a fresh base32 OTP secret.
func NewSecret() (string, error) {
	raw := make([]byte, secretLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate otp secret: %w", err)
	}
	return base32.StdEncoding.EncodeToString(raw), nil
}

// Code derives the passcode for the given time.
func Code(secret string, at time.Time) (string, error) {
	key, err := base32.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode otp secret: %w", err)
	}

	counter := uint64(at.Unix() / int64(Period.Seconds()))
	msg := make([]byte, 8)
	binary.BigEndian.PutUint64(msg, counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	binaryCode := int(sum[offset]&0x7f)<<24 |
		int(sum[offset+1]&0xff)<<16 |
		int(sum[offset+2]&0xff)<<8 |
		int(sum[offset+3]&0xff)

	return fmt.Sprintf("%0*d", codeLength, binaryCode%1000000), nil
}

// Verify checks a submitted code against the current and the two adjacent
// steps, tolerating clock skew around a window boundary.
func Verify(secret, code string, at time.Time) bool {
	for _, shift := range []time.Duration{0, -Period, Period} {
		expected, err := Code(secret, at.Add(shift))
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(expected)) == 1 {
			return true
		}
	}
	return false
}
