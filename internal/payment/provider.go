// Package payment is the boundary to whoever actually moves the money:
// a card processor for card payments, the front desk for cash and transfers.
package payment

import (
	"context"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

type Method string

const (
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
	MethodTransfer Method = "transfer"
)

func ParseMethod(raw string) (Method, bool) {
	switch m := Method(raw); m {
	case MethodCash, MethodCard, MethodTransfer:
		return m, true
	}
	return "", false
}

// ErrUnavailable covers network, auth and timeout failures. The charge may or
// may not have happened; retry with the same idempotency key.
var ErrUnavailable = apperr.New(apperr.KindGatewayUnavailable, "payment gateway unavailable, retry with the same idempotency key")

type ChargeRequest struct {
	Amount             int64 // minor units
	Currency           string
	PaymentMethodToken string
	Reference          string // manual receipt/transfer reference
	Description        string
	IdempotencyKey     string
}

// Result reports the business outcome of a charge. A decline is
// Success=false with a Message, never a Go error.
type Result struct {
	Success       bool
	TransactionID string
	Message       string
}

type Provider interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
}
