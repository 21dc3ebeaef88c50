// Package mandate issues and validates signed, multi-approval authorization
// tokens. High-risk and cross-boundary actions require a mandate before they
// execute. Signatures cover the JCS-canonical payload serialization, so a
// token verifies identically regardless of which process serialized it.
package mandate

import (
	"crypto/hmac"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/tillerlabs/tiller/pkg/canonicalize"
	"github.com/tillerlabs/tiller/pkg/risk"
)

// Approval is one party's recorded sign-off.
type Approval struct {
	ApproverID string    `json:"approver_id"`
	ApprovedAt time.Time `json:"approved_at"`
	Role       string    `json:"role,omitempty"`
}

// Payload is the signed body of a mandate.
type Payload struct {
	MandateID    string     `json:"mandate_id"`
	Intent       string     `json:"intent"`
	Scope        string     `json:"scope"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RiskLevel    risk.Level `json:"risk_level"`
	MinApprovals int        `json:"min_approvals"`
	Approvals    []Approval `json:"approvals"`
	Rationale    string     `json:"rationale,omitempty"`
}

// Token is a payload plus the signature over its canonical form.
type Token struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"`
	Alg       string  `json:"alg"`
}

// Code identifies why validation failed. The set is closed; callers switch
// on it to route rejections.
type Code string

const (
	CodeSignatureInvalid      Code = "signature_invalid"
	CodeIntentMismatch        Code = "intent_mismatch"
	CodeMandateExpired        Code = "mandate_expired"
	CodeRiskLevelInsufficient Code = "risk_level_insufficient"
	CodeApprovalsInsufficient Code = "approvals_insufficient"
)

// Result is a validation verdict. Validation never panics and never returns
// a code outside the fixed set.
type Result struct {
	OK   bool `json:"ok"`
	Code Code `json:"code,omitempty"`
}

// Options parameterizes validation.
type Options struct {
	ExpectedIntent string
	MinApprovals   int
	MinRiskLevel   risk.Level
	Secret         []byte
}

// Sign produces a token over the payload with an HMAC secret.
func Sign(p Payload, secret []byte) (Token, error) {
	signer, err := NewHMACSigner(secret)
	if err != nil {
		return Token{}, err
	}
	return SignWith(p, signer)
}

// SignWith produces a token using an injected signer.
func SignWith(p Payload, signer Signer) (Token, error) {
	msg, err := canonicalize.JCS(p)
	if err != nil {
		return Token{}, err
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return Token{}, err
	}
	return Token{Payload: p, Signature: sig, Alg: signer.Alg()}, nil
}

// Validate checks a token against the current wall clock.
func Validate(token Token, opts Options) Result {
	return ValidateAt(token, opts, time.Now())
}

// ValidateAt runs the validation chain in a fixed fail-fast order:
// signature, intent binding, expiry, risk level, approval count. The first
// failing check decides the code.
func ValidateAt(token Token, opts Options, now time.Time) Result {
	if !signatureValid(token, opts.Secret) {
		return Result{OK: false, Code: CodeSignatureInvalid}
	}
	if token.Payload.Intent != opts.ExpectedIntent {
		return Result{OK: false, Code: CodeIntentMismatch}
	}
	if now.After(token.Payload.ExpiresAt) {
		return Result{OK: false, Code: CodeMandateExpired}
	}
	if opts.MinRiskLevel != "" && !token.Payload.RiskLevel.AtLeast(opts.MinRiskLevel) {
		return Result{OK: false, Code: CodeRiskLevelInsufficient}
	}
	required := opts.MinApprovals
	if required == 0 {
		required = token.Payload.MinApprovals
	}
	if len(token.Payload.Approvals) < required {
		return Result{OK: false, Code: CodeApprovalsInsufficient}
	}
	return Result{OK: true}
}

// signatureValid recomputes the HMAC over the canonical payload and compares
// in constant time. Any malformed input verifies as invalid rather than
// erroring out.
func signatureValid(token Token, secret []byte) bool {
	signer, err := NewHMACSigner(secret)
	if err != nil {
		return false
	}
	msg, err := canonicalize.JCS(token.Payload)
	if err != nil {
		return false
	}
	want, err := signer.Sign(msg)
	if err != nil {
		return false
	}
	wantRaw, err := hex.DecodeString(want)
	if err != nil {
		return false
	}
	gotRaw, err := hex.DecodeString(token.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(gotRaw, wantRaw)
}

// Issuer drafts mandate payloads with stamped IDs and validity windows.
type Issuer struct {
	ttl   time.Duration
	clock func() time.Time
}

// NewIssuer creates an issuer whose mandates expire ttl after issuance.
func NewIssuer(ttl time.Duration) *Issuer {
	return &Issuer{ttl: ttl, clock: time.Now}
}

// WithClock overrides clock for testing.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	i.clock = clock
	return i
}

// Draft builds an unsigned payload for the given intent. Approvals are
// collected afterwards with Approve, then the payload is signed.
func (i *Issuer) Draft(intent, scope string, level risk.Level, minApprovals int, rationale string) Payload {
	now := i.clock()
	return Payload{
		MandateID:    uuid.New().String(),
		Intent:       intent,
		Scope:        scope,
		IssuedAt:     now,
		ExpiresAt:    now.Add(i.ttl),
		RiskLevel:    level,
		MinApprovals: minApprovals,
		Rationale:    rationale,
	}
}

// Approve returns a copy of the payload with the approval appended. The
// input payload is left unchanged.
func Approve(p Payload, approverID, role string, at time.Time) Payload {
	out := p
	out.Approvals = make([]Approval, 0, len(p.Approvals)+1)
	out.Approvals = append(out.Approvals, p.Approvals...)
	out.Approvals = append(out.Approvals, Approval{ApproverID: approverID, ApprovedAt: at, Role: role})
	return out
}
