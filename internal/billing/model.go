// Package billing keeps the invoice ledger: what a patient owes and the
// payments applied against it.
package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/payment"
)

type InvoiceStatus string

const (
	InvoicePending       InvoiceStatus = "pending"
	InvoicePartiallyPaid InvoiceStatus = "partially-paid"
	InvoicePaid          InvoiceStatus = "paid"
)

type PaymentStatus string

const (
	PaymentApplied  PaymentStatus = "applied"
	PaymentPending  PaymentStatus = "pending"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var (
	ErrInvoiceNotFound    = apperr.New(apperr.KindNotFound, "invoice not found")
	ErrPaymentNotFound    = apperr.New(apperr.KindNotFound, "payment not found")
	ErrExceedsBalance     = apperr.New(apperr.KindExceedsBalance, "payment exceeds the pending balance")
	ErrDuplicatePayment   = apperr.New(apperr.KindInvalidArgument, "idempotency key already recorded")
	ErrIdempotencyKeyUsed = apperr.New(apperr.KindInvalidArgument, "idempotency key already used for another invoice")
)

type Invoice struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	TreatmentID   *uuid.UUID
	AppointmentID *uuid.UUID
	Total         int64
	Balance       int64
	Status        InvoiceStatus
	Description   *string
	Notes         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Payment struct {
	ID                uuid.UUID
	InvoiceID         uuid.UUID
	PatientID         uuid.UUID
	Amount            int64
	Method            payment.Method
	Status            PaymentStatus
	ProviderReference string
	IdempotencyKey    *string
	CreatedAt         time.Time
}

type AppointmentRef struct {
	ID   uuid.UUID `json:"id"`
	Date time.Time `json:"date"`
	Slot string    `json:"slot"`
}

type InvoiceDetail struct {
	Invoice
	Payments    []Payment
	Patient     *clinic.PatientSummary
	Treatment   *clinic.TreatmentSummary
	Appointment *AppointmentRef
}

// PaymentRecord is what the ledger persists once the money has been taken.
type PaymentRecord struct {
	InvoiceID         uuid.UUID
	Amount            int64
	Method            payment.Method
	ProviderReference string
	IdempotencyKey    string
}

// DeriveStatus maps a balance to its invoice status.
func DeriveStatus(total, balance int64) InvoiceStatus {
	switch {
	case balance == 0:
		return InvoicePaid
	case balance < total:
		return InvoicePartiallyPaid
	default:
		return InvoicePending
	}
}
