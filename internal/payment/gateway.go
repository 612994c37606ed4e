// Package payment is the client side of the payment processor contract.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrDeclined is returned when the processor refuses an authorization.
var ErrDeclined = errors.New("payment declined")

// ErrUnknownIntent is returned for operations on an unknown authorization.
var ErrUnknownIntent = errors.New("unknown payment intent")

type AuthorizeRequest struct {
	OrderID       uuid.UUID
	CustomerID    uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
}

// DeclineError carries the processor's reason.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string { return "payment declined: " + e.Reason }
func (e *DeclineError) Unwrap() error { return ErrDeclined }

// Gateway authorizes, captures, voids and refunds payments.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (string, error)
	Capture(ctx context.Context, intentRef string, amount decimal.Decimal) error
	Void(ctx context.Context, intentRef string) error
	Refund(ctx context.Context, intentRef string, amount decimal.Decimal) error
}

type intentState string

const (
	intentAuthorized intentState = "authorized"
	intentCaptured   intentState = "captured"
	intentVoided     intentState = "voided"
	intentRefunded   intentState = "refunded"
)

type sandboxIntent struct {
	amount decimal.Decimal
	state  intentState
}

// SandboxGateway approves everything except the "tok_decline" method. It is
// used when no processor key is configured and in tests.
type SandboxGateway struct {
	mu      sync.Mutex
	intents map[string]*sandboxIntent
}

const DeclineToken = "tok_decline"

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{intents: make(map[string]*sandboxIntent)}
}

func (s *SandboxGateway) Authorize(_ context.Context, req AuthorizeRequest) (string, error) {
	if req.PaymentMethod == DeclineToken {
		return "", &DeclineError{Reason: "card_declined"}
	}
	if req.Amount.IsNegative() {
		return "", fmt.Errorf("negative amount")
	}
	ref := "pi_sandbox_" + uuid.NewString()
	s.mu.Lock()
	s.intents[ref] = &sandboxIntent{amount: req.Amount, state: intentAuthorized}
	s.mu.Unlock()
	return ref, nil
}

func (s *SandboxGateway) Capture(_ context.Context, ref string, amount decimal.Decimal) error {
	return s.move(ref, intentAuthorized, intentCaptured)
}

func (s *SandboxGateway) Void(_ context.Context, ref string) error {
	return s.move(ref, intentAuthorized, intentVoided)
}

func (s *SandboxGateway) Refund(_ context.Context, ref string, _ decimal.Decimal) error {
	return s.move(ref, intentCaptured, intentRefunded)
}

// State reports the sandbox state of ref, for tests.
func (s *SandboxGateway) State(ref string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.intents[ref]; ok {
		return string(in.state)
	}
	return ""
}

func (s *SandboxGateway) move(ref string, from, to intentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[ref]
	if !ok {
		return ErrUnknownIntent
	}
	if in.state == to {
		return nil
	}
	if in.state != from {
		return fmt.Errorf("cannot move intent from %s to %s", in.state, to)
	}
	in.state = to
	return nil
}
