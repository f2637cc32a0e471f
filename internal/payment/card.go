package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

type intentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// CardProvider charges cards through Stripe PaymentIntents, confirming
// immediately with a payment method token collected by the frontend.
type CardProvider struct {
	intents intentCreator
}

// NewCardProvider builds a provider with its own Stripe client; no package
// level stripe.Key is set.
func NewCardProvider(secretKey string, httpClient *http.Client) *CardProvider {
	sc := client.New(secretKey, stripe.NewBackends(httpClient))
	return &CardProvider{intents: sc.PaymentIntents}
}

func (p *CardProvider) Name() string { return "stripe" }

func (p *CardProvider) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if req.PaymentMethodToken == "" {
		return Result{Success: false, Message: "card payment method token is missing"}, nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(req.Currency),
		PaymentMethod:      stripe.String(req.PaymentMethodToken),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := p.intents.New(params)
	if err != nil {
		return classifyStripeError(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return Result{Success: true, TransactionID: pi.ID}, nil
	case stripe.PaymentIntentStatusProcessing:
		// outcome unknown until Stripe settles it
		return Result{}, fmt.Errorf("%w: payment intent %s still processing", ErrUnavailable, pi.ID)
	default:
		return Result{
			Success:       false,
			TransactionID: pi.ID,
			Message:       fmt.Sprintf("payment not completed (status %s)", pi.Status),
		}, nil
	}
}

func classifyStripeError(err error) (Result, error) {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized,
		se.HTTPStatusCode == http.StatusForbidden,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError:
		return Result{}, fmt.Errorf("%w: stripe %d %s", ErrUnavailable, se.HTTPStatusCode, se.Type)
	case se.Type == stripe.ErrorTypeCard, se.Type == stripe.ErrorTypeInvalidRequest:
		res := Result{Success: false, Message: se.Msg}
		if se.PaymentIntent != nil {
			res.TransactionID = se.PaymentIntent.ID
		}
		return res, nil
	default:
		return Result{}, fmt.Errorf("%w: stripe %s", ErrUnavailable, se.Type)
	}
}
