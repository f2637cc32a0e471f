package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

type fakeIntents struct {
	pi     *stripe.PaymentIntent
	err    error
	params *stripe.PaymentIntentParams
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.params = params
	return f.pi, f.err
}

func TestParseMethod(t *testing.T) {
	for _, raw := range []string{"cash", "card", "transfer"} {
		m, ok := ParseMethod(raw)
		assert.True(t, ok)
		assert.Equal(t, Method(raw), m)
	}
	_, ok := ParseMethod("cheque")
	assert.False(t, ok)
}

func TestManualProvider(t *testing.T) {
	p := &ManualProvider{now: func() time.Time { return time.UnixMilli(1717200000000) }}

	res, err := p.Charge(context.Background(), ChargeRequest{Amount: 5000})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "manual-1717200000000", res.TransactionID)

	res, err = p.Charge(context.Background(), ChargeRequest{Amount: 5000, Reference: "TRF-88"})
	require.NoError(t, err)
	assert.Equal(t, "TRF-88", res.TransactionID)
}

func TestCardProviderCharge(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeded", func(t *testing.T) {
		fake := &fakeIntents{pi: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded}}
		p := &CardProvider{intents: fake}

		res, err := p.Charge(ctx, ChargeRequest{Amount: 100000, Currency: "cop", PaymentMethodToken: "pm_card", IdempotencyKey: "k-1"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "pi_1", res.TransactionID)
		assert.Equal(t, int64(100000), *fake.params.Amount)
		assert.Equal(t, "cop", *fake.params.Currency)
		assert.Equal(t, "k-1", *fake.params.IdempotencyKey)
		assert.True(t, *fake.params.Confirm)
	})

	t.Run("card declined is not an error", func(t *testing.T) {
		fake := &fakeIntents{err: &stripe.Error{Type: stripe.ErrorTypeCard, HTTPStatusCode: http.StatusPaymentRequired, Msg: "Your card has insufficient funds."}}
		p := &CardProvider{intents: fake}

		res, err := p.Charge(ctx, ChargeRequest{Amount: 100, PaymentMethodToken: "pm_card"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "Your card has insufficient funds.", res.Message)
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		fake := &fakeIntents{err: &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusBadGateway}}
		p := &CardProvider{intents: fake}

		_, err := p.Charge(ctx, ChargeRequest{Amount: 100, PaymentMethodToken: "pm_card"})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("network error is unavailable", func(t *testing.T) {
		p := &CardProvider{intents: &fakeIntents{err: errors.New("dial tcp: i/o timeout")}}

		_, err := p.Charge(ctx, ChargeRequest{Amount: 100, PaymentMethodToken: "pm_card"})
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.True(t, apperr.Retryable(err))
	})

	t.Run("requires action is a decline", func(t *testing.T) {
		fake := &fakeIntents{pi: &stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusRequiresAction}}
		p := &CardProvider{intents: fake}

		res, err := p.Charge(ctx, ChargeRequest{Amount: 100, PaymentMethodToken: "pm_card"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "pi_2", res.TransactionID)
	})

	t.Run("missing token is a decline", func(t *testing.T) {
		fake := &fakeIntents{}
		p := &CardProvider{intents: fake}

		res, err := p.Charge(ctx, ChargeRequest{Amount: 100})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Nil(t, fake.params, "stripe must not be called")
	})
}

type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }

func (slowProvider) Charge(ctx context.Context, _ ChargeRequest) (Result, error) {
	<-ctx.Done()
	return Result{}, ctx.Err()
}

type recordingProvider struct {
	got ChargeRequest
	res Result
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Charge(_ context.Context, req ChargeRequest) (Result, error) {
	p.got = req
	return p.res, nil
}

func TestGatewayRoutesByMethod(t *testing.T) {
	card := &recordingProvider{res: Result{Success: true, TransactionID: "pi_9"}}
	manual := &recordingProvider{res: Result{Success: true, TransactionID: "manual-1"}}
	g := NewGateway(card, manual, time.Second, "cop", zap.NewNop())

	res, err := g.Charge(context.Background(), MethodCard, ChargeRequest{Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, "pi_9", res.TransactionID)
	assert.Equal(t, "cop", card.got.Currency)

	res, err = g.Charge(context.Background(), MethodTransfer, ChargeRequest{Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, "manual-1", res.TransactionID)

	_, err = g.Charge(context.Background(), Method("cheque"), ChargeRequest{Amount: 10})
	assert.ErrorIs(t, err, apperr.InvalidArgument)
}

func TestGatewayTimeoutIsUnavailable(t *testing.T) {
	g := NewGateway(slowProvider{}, NewManualProvider(), 20*time.Millisecond, "cop", zap.NewNop())

	_, err := g.Charge(context.Background(), MethodCard, ChargeRequest{Amount: 10, PaymentMethodToken: "pm"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, apperr.Retryable(err))
}

func TestGatewayWithoutCardProvider(t *testing.T) {
	g := NewGateway(nil, NewManualProvider(), time.Second, "cop", zap.NewNop())

	_, err := g.Charge(context.Background(), MethodCard, ChargeRequest{Amount: 10})
	assert.ErrorIs(t, err, ErrUnavailable)
}
