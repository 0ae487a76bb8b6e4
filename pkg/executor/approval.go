package executor

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veritas-run/core/pkg/contracts"
)

// ApprovalClaims are the JWT claims carried by an approval-grant token.
// A host mints one of these when a human with ApproverRole approves a
// suspended step, and hands it back to the executor as the payload of
// an AgentInput with Kind "approval_granted".
type ApprovalClaims struct {
	jwt.RegisteredClaims
	ExecutionId  string `json:"execution_id"`
	Step         uint64 `json:"step"`
	ApproverRole string `json:"approver_role"`
	Approver     string `json:"approver"`
}

// ApprovalKind is the AgentInput.Kind a resuming step must carry for
// ApprovalSigner.Verify to be meaningful. The core does not enforce this
// tag itself — it is a convention hosts use to route resumption inputs
// to ApprovalSigner.Verify before calling Step again.
const ApprovalKind = "approval_granted"

// ApprovalSigner mints and verifies approval-grant tokens with a single
// HMAC secret. It has no relationship to Executor.Step; hosts call it
// out-of-band between the AwaitingApproval result and the resuming Step
// call.
type ApprovalSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewApprovalSigner builds a signer keyed by secret. Tokens are valid
// for ttl from the moment they are issued.
func NewApprovalSigner(secret []byte, ttl time.Duration) *ApprovalSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ApprovalSigner{secret: secret, ttl: ttl}
}

// Issue mints a signed approval token for the given suspended step and
// the human principal who granted it.
func (s *ApprovalSigner) Issue(suspended contracts.AgentState, approverRole, approver string) (string, error) {
	now := monotonicNow()
	claims := ApprovalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   approver,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    "veritas-run/core/executor",
		},
		ExecutionId:  suspended.ExecutionId.String(),
		Step:         suspended.Step,
		ApproverRole: approverRole,
		Approver:     approver,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", &contracts.ConfigError{Reason: fmt.Sprintf("signing approval token: %v", err)}
	}
	return signed, nil
}

// Verify checks tok's signature and expiry, and confirms it grants the
// exact (execution, step, approver role) triple the caller expects
// before resuming a suspended step. A mismatch on any of those fields
// is treated as an invalid grant, not a signature failure, so the
// caller can distinguish "forged" from "for the wrong step".
func (s *ApprovalSigner) Verify(tok string, wantExecution string, wantStep uint64, wantApproverRole string) (*ApprovalClaims, error) {
	parsed, err := jwt.ParseWithClaims(tok, &ApprovalClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, &contracts.PolicyDeniedError{Reason: fmt.Sprintf("invalid approval token: %v", err)}
	}
	claims, ok := parsed.Claims.(*ApprovalClaims)
	if !ok || !parsed.Valid {
		return nil, &contracts.PolicyDeniedError{Reason: "invalid approval token"}
	}
	if claims.ExecutionId != wantExecution || claims.Step != wantStep || claims.ApproverRole != wantApproverRole {
		return nil, &contracts.PolicyDeniedError{Reason: "approval token does not grant this step"}
	}
	return claims, nil
}
