// Package mfa issues and checks one-time codes: the single account-wide email code and the
// hashing shared by transfer OTPs and tiered challenge codes.
package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const otpDigits = 6

var otpSpace = big.NewInt(1_000_000)

// GenerateOTP returns a uniformly random 6-digit code, zero-padded (e.g. "004219").
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// HashOTP returns a SHA-256 hash of the OTP string, hex-encoded.
func HashOTP(otp string) string {
	h := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(h[:])
}

// OTPEqual performs constant-time comparison of the provided OTP's hash with the stored hash.
// An empty stored hash never matches.
func OTPEqual(providedOTP, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	providedHash := HashOTP(providedOTP)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
