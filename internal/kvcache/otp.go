package kvcache

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

// OTPStore issues and verifies one-time passwords for card-freeze
// confirmation. Codes are six digits, live for the configured TTL, and are
// consumed on the first successful verify.
type OTPStore struct {
	kv  KV
	ttl time.Duration
}

// NewOTPStore builds an OTP store with the given code lifetime.
func NewOTPStore(kv KV, ttl time.Duration) *OTPStore {
	return &OTPStore{kv: kv, ttl: ttl}
}

// Issue generates a fresh code for cardID, replacing any outstanding one.
func (s *OTPStore) Issue(ctx context.Context, cardID string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	if err := s.kv.Set(ctx, otpPrefix+cardID, code, s.ttl); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

// Verify consumes the outstanding code for cardID and compares it to the
// supplied one in constant time. A wrong code still consumes the stored
// value, so each issued code allows exactly one attempt.
func (s *OTPStore) Verify(ctx context.Context, cardID, code string) (bool, error) {
	stored, ok, err := s.kv.GetDel(ctx, otpPrefix+cardID)
	if err != nil {
		return false, fmt.Errorf("read otp: %w", err)
	}
	if !ok {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1, nil
}
