package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateInvoice(ctx context.Context, inv Invoice) (*Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetInvoiceDetail(ctx context.Context, id uuid.UUID) (*InvoiceDetail, error)
	FindByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]InvoiceDetail, error)
	ListAll(ctx context.Context, limit, offset int) ([]InvoiceDetail, error)

	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*Payment, error)

	// ApplyPayment decrements the balance and records the payment atomically.
	ApplyPayment(ctx context.Context, rec PaymentRecord) (*Invoice, *Payment, error)
}
