package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/payment"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

// settleTimeout bounds the ledger write that follows a successful charge.
const settleTimeout = 10 * time.Second

var ErrPaymentInProgress = apperr.New(apperr.KindGatewayUnavailable, "another payment for this invoice is in progress, retry shortly")

// Charger is the payment gateway as seen by the ledger.
type Charger interface {
	Charge(ctx context.Context, method payment.Method, req payment.ChargeRequest) (payment.Result, error)
}

// PatientLookup is the slice of the clinic repository the ledger needs.
type PatientLookup interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*clinic.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientLookup
	gateway  Charger
	locker   redisclient.Locker
	notifier notify.Notifier
	currency string
	log      *zap.Logger
}

func NewService(repo Repository, patients PatientLookup, gateway Charger, locker redisclient.Locker, notifier notify.Notifier, currency string, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		currency: currency,
		log:      log,
	}
}

type CreateInvoiceInput struct {
	PatientID     uuid.UUID
	TreatmentID   *uuid.UUID
	AppointmentID *uuid.UUID
	Total         int64
	Description   string
	Notes         string
}

func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if in.Total <= 0 {
		return nil, apperr.Invalid(map[string]string{"total": "must be greater than zero"})
	}
	if _, err := s.patients.GetPatientByID(ctx, in.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	inv, err := s.repo.CreateInvoice(ctx, Invoice{
		PatientID:     in.PatientID,
		TreatmentID:   in.TreatmentID,
		AppointmentID: in.AppointmentID,
		Total:         in.Total,
		Description:   optional(in.Description),
		Notes:         optional(in.Notes),
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.log.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("patient_id", inv.PatientID.String()),
		zap.Int64("total", inv.Total),
	)
	return inv, nil
}

type ApplyInput struct {
	InvoiceID      uuid.UUID
	Amount         int64
	Method         payment.Method
	Reference      string
	CardToken      string
	IdempotencyKey string
}

type Receipt struct {
	Invoice  *Invoice
	Payment  *Payment
	Replayed bool // the idempotency key was already recorded; nothing was charged
}

// ApplyPayment charges the amount through the gateway and, only on success,
// decrements the invoice balance and records the payment in one transaction.
func (s *Service) ApplyPayment(ctx context.Context, in ApplyInput) (*Receipt, error) {
	if in.Amount <= 0 {
		return nil, apperr.Invalid(map[string]string{"amount": "must be greater than zero"})
	}
	if _, ok := payment.ParseMethod(string(in.Method)); !ok {
		return nil, apperr.Invalid(map[string]string{"method": "must be one of cash, card, transfer"})
	}

	inv, err := s.repo.GetInvoice(ctx, in.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}

	if receipt, err := s.replay(ctx, inv, in.IdempotencyKey); receipt != nil || err != nil {
		return receipt, err
	}

	if in.Amount > inv.Balance {
		return nil, ErrExceedsBalance
	}

	var receipt *Receipt
	err = s.locker.WithLock(ctx, redisclient.InvoiceKey(inv.ID), func(lockCtx context.Context) error {
		// re-read under the lock; a concurrent payment may have landed
		current, err := s.repo.GetInvoice(lockCtx, inv.ID)
		if err != nil {
			return fmt.Errorf("reload invoice: %w", err)
		}
		if in.Amount > current.Balance {
			return ErrExceedsBalance
		}

		ref, err := s.Collect(lockCtx, in.Method, payment.ChargeRequest{
			Amount:             in.Amount,
			PaymentMethodToken: in.CardToken,
			Reference:          in.Reference,
			Description:        fmt.Sprintf("invoice %s", current.ID),
			IdempotencyKey:     in.IdempotencyKey,
		})
		if err != nil {
			return err
		}

		// money has been taken; the write must not inherit the lock deadline
		settleCtx, cancel := context.WithTimeout(context.WithoutCancel(lockCtx), settleTimeout)
		defer cancel()

		updated, pay, err := s.repo.ApplyPayment(settleCtx, PaymentRecord{
			InvoiceID:         current.ID,
			Amount:            in.Amount,
			Method:            in.Method,
			ProviderReference: ref,
			IdempotencyKey:    in.IdempotencyKey,
		})
		if err != nil {
			if errors.Is(err, ErrDuplicatePayment) {
				replayed, rerr := s.replay(settleCtx, current, in.IdempotencyKey)
				if rerr != nil {
					return rerr
				}
				if replayed != nil {
					receipt = replayed
					return nil
				}
			}
			s.log.Error("charge taken but ledger not updated",
				zap.String("invoice_id", current.ID.String()),
				zap.String("provider_reference", ref),
				zap.Int64("amount", in.Amount),
				zap.Error(err),
			)
			return fmt.Errorf("apply payment: %w", err)
		}

		receipt = &Receipt{Invoice: updated, Payment: pay}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrPaymentInProgress
		}
		return nil, err
	}

	s.log.Info("payment applied",
		zap.String("invoice_id", receipt.Invoice.ID.String()),
		zap.String("payment_id", receipt.Payment.ID.String()),
		zap.Int64("amount", receipt.Payment.Amount),
		zap.Int64("balance", receipt.Invoice.Balance),
		zap.String("status", string(receipt.Invoice.Status)),
	)
	s.notifyPayment(ctx, receipt)

	return receipt, nil
}

// replay returns the stored outcome when key was already used for inv.
func (s *Service) replay(ctx context.Context, inv *Invoice, key string) (*Receipt, error) {
	if key == "" {
		return nil, nil
	}

	prior, err := s.repo.GetPaymentByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	if prior.InvoiceID != inv.ID {
		return nil, ErrIdempotencyKeyUsed
	}

	current, err := s.repo.GetInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	return &Receipt{Invoice: current, Payment: prior, Replayed: true}, nil
}

// Collect takes the money through the gateway and returns the provider
// reference. Declines and outages come back as apperr kinds so callers can
// stop before touching the ledger.
func (s *Service) Collect(ctx context.Context, method payment.Method, req payment.ChargeRequest) (string, error) {
	if method == payment.MethodCard && strings.TrimSpace(req.PaymentMethodToken) == "" {
		return "", apperr.Invalid(map[string]string{"card_token": "is required for card payments"})
	}
	if req.Currency == "" {
		req.Currency = s.currency
	}

	res, err := s.gateway.Charge(ctx, method, req)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvalidArgument {
			return "", err
		}
		if errors.Is(err, payment.ErrUnavailable) {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindGatewayUnavailable, err, "payment gateway unavailable, retry with the same idempotency key")
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "payment declined"
		}
		return "", apperr.New(apperr.KindGatewayDeclined, msg)
	}
	return res.TransactionID, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*InvoiceDetail, error) {
	d, err := s.repo.GetInvoiceDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return d, nil
}

// FindByAppointment returns nil, nil when the appointment has no invoice.
func (s *Service) FindByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.FindByAppointment(ctx, appointmentID)
	if errors.Is(err, ErrInvoiceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice for appointment: %w", err)
	}
	return inv, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]InvoiceDetail, error) {
	list, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list invoices by patient: %w", err)
	}
	return list, nil
}

func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]InvoiceDetail, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.repo.ListAll(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return list, nil
}

func (s *Service) notifyPayment(ctx context.Context, r *Receipt) {
	p, err := s.patients.GetPatientByID(ctx, r.Invoice.PatientID)
	if err != nil {
		s.log.Warn("skip payment notification", zap.String("invoice_id", r.Invoice.ID.String()), zap.Error(err))
		return
	}
	notify.Dispatch(ctx, s.notifier, s.log, notify.Event{
		Type:        notify.EventPaymentReceived,
		InvoiceID:   r.Invoice.ID.String(),
		PatientName: p.Name,
		Email:       deref(p.Email),
		Phone:       deref(p.Phone),
		Amount:      r.Payment.Amount,
		Balance:     r.Invoice.Balance,
		Currency:    s.currency,
	})
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
