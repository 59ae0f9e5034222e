// Package otp issues and verifies one-time booking confirmation codes and
// hands them to a delivery channel.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"time"
)

// CodeLength is the number of digits in a code.
const CodeLength = 6

// Result is the outcome of a verification attempt.
type Result string

const (
	ResultMatch     Result = "match"
	ResultMismatch  Result = "mismatch"
	ResultExhausted Result = "exhausted"
	ResultExpired   Result = "expired"
)

// Pending is an outstanding code bound to a session.
type Pending struct {
	Code        string    `json:"code"`
	Phone       string    `json:"phone"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
}

// Verify checks code against the pending record. A mismatch consumes an
// attempt; the attempt that reaches MaxAttempts reports ResultExhausted and
// every later call does too, without comparing.
func (p *Pending) Verify(code string, now time.Time) Result {
	if p.Attempts >= p.MaxAttempts {
		return ResultExhausted
	}
	if !now.Before(p.ExpiresAt) {
		return ResultExpired
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(p.Code)) == 1 {
		return ResultMatch
	}
	p.Attempts++
	if p.Attempts >= p.MaxAttempts {
		return ResultExhausted
	}
	return ResultMismatch
}

// Remaining returns how many attempts are left.
func (p *Pending) Remaining() int {
	if n := p.MaxAttempts - p.Attempts; n > 0 {
		return n
	}
	return 0
}

// Clone returns an independent copy.
func (p *Pending) Clone() *Pending {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Issuer creates fresh pending records.
type Issuer struct {
	expiry      time.Duration
	maxAttempts int
	random      io.Reader
}

// NewIssuer creates an issuer. Zero values fall back to 5 minutes and 3 attempts.
func NewIssuer(expiry time.Duration, maxAttempts int) *Issuer {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Issuer{expiry: expiry, maxAttempts: maxAttempts, random: rand.Reader}
}

// Issue generates a new code for phone.
func (i *Issuer) Issue(phone string, now time.Time) (*Pending, error) {
	code, err := generateCode(i.random)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	return &Pending{
		Code:        code,
		Phone:       phone,
		IssuedAt:    now,
		ExpiresAt:   now.Add(i.expiry),
		MaxAttempts: i.maxAttempts,
	}, nil
}

func generateCode(r io.Reader) (string, error) {
	code := make([]byte, 0, CodeLength)
	buf := make([]byte, 1)
	for len(code) < CodeLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		// 250 is the largest multiple of 10 below 256; rejecting above it keeps digits uniform.
		if buf[0] >= 250 {
			continue
		}
		code = append(code, '0'+buf[0]%10)
	}
	return string(code), nil
}
