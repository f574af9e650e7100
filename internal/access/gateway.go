package access

import (
	"context"
	"time"
)

// PaymentGateway external collaborator that settles an unlock payment.
// A nil error means the payment succeeded; every call resolves exactly once.
type PaymentGateway interface {
	AttemptUnlock(ctx context.Context, lectureID string) (*Receipt, error)
}

// GatewayFunc adapts a function to PaymentGateway
type GatewayFunc func(ctx context.Context, lectureID string) (*Receipt, error)

// AttemptUnlock implements PaymentGateway
func (f GatewayFunc) AttemptUnlock(ctx context.Context, lectureID string) (*Receipt, error) {
	return f(ctx, lectureID)
}

// Receipt proof of a settled unlock payment
type Receipt struct {
	TxHash    string    `json:"tx_hash"`
	LectureID string    `json:"lecture_id"`
	Payer     string    `json:"payer,omitempty"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	PaidAt    time.Time `json:"paid_at"`
}

// UnlockStatus outcome of an unlock request
type UnlockStatus string

// unlock outcomes
const (
	UnlockSucceeded   UnlockStatus = "unlocked"
	UnlockAlready     UnlockStatus = "already_unlocked"
	UnlockBusy        UnlockStatus = "busy"
	UnlockFailed      UnlockStatus = "failed"
	UnlockUnavailable UnlockStatus = "unavailable"
	UnlockClosed      UnlockStatus = "closed"
)

// UnlockResult what the presentation layer gets back from RequestUnlock
type UnlockResult struct {
	Status  UnlockStatus `json:"outcome"`
	Reason  string       `json:"reason,omitempty"`
	Receipt *Receipt     `json:"receipt,omitempty"`
	View    View         `json:"view"`
	Err     error        `json:"-"`
}

// Unlocked reports whether the lecture is unlocked after the request
func (r UnlockResult) Unlocked() bool {
	return r.Status == UnlockSucceeded || r.Status == UnlockAlready
}
