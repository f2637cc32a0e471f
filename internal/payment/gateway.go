package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

// Gateway routes a charge to the provider for its method and bounds every
// provider call with a timeout.
type Gateway struct {
	card     Provider
	manual   Provider
	timeout  time.Duration
	currency string
	log      *zap.Logger
}

func NewGateway(card, manual Provider, timeout time.Duration, currency string, log *zap.Logger) *Gateway {
	return &Gateway{
		card:     card,
		manual:   manual,
		timeout:  timeout,
		currency: currency,
		log:      log,
	}
}

func (g *Gateway) provider(method Method) (Provider, error) {
	switch method {
	case MethodCard:
		if g.card == nil {
			return nil, fmt.Errorf("%w: card payments are not configured", ErrUnavailable)
		}
		return g.card, nil
	case MethodCash, MethodTransfer:
		return g.manual, nil
	}
	return nil, apperr.Newf(apperr.KindInvalidArgument, "unsupported payment method %q", method)
}

func (g *Gateway) Charge(ctx context.Context, method Method, req ChargeRequest) (Result, error) {
	p, err := g.provider(method)
	if err != nil {
		return Result{}, err
	}
	if req.Currency == "" {
		req.Currency = g.currency
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := p.Charge(callCtx, req)
	if err == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !res.Success {
		err = callCtx.Err()
	}
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		g.log.Warn("payment provider unavailable",
			zap.String("provider", p.Name()),
			zap.Int64("amount", req.Amount),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return Result{}, err
	}

	g.log.Info("payment provider responded",
		zap.String("provider", p.Name()),
		zap.Int64("amount", req.Amount),
		zap.Bool("success", res.Success),
		zap.String("transaction_id", res.TransactionID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
