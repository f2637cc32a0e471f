package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	invoiceColumns = `i.id, i.patient_id, i.treatment_id, i.appointment_id, i.total, i.balance, i.status,
		i.description, i.notes, i.created_at, i.updated_at`
	paymentColumns = `id, invoice_id, patient_id, amount, method, status, provider_reference, idempotency_key, created_at`

	detailSelect = `SELECT ` + invoiceColumns + `,
			p.id, p.name, p.document_number, p.email, p.phone,
			t.id, t.name, t.price,
			a.id, a.date, a.slot
		FROM invoices i
		JOIN patients p ON p.id = i.patient_id
		LEFT JOIN treatments t ON t.id = i.treatment_id
		LEFT JOIN appointments a ON a.id = i.appointment_id`

	constraintIdempotencyKey = "payments_idempotency_key_key"

	// settleAppointmentSQL marks the appointment behind a fully paid invoice
	// as paid and enabled, keeping fields an earlier settlement already set.
	settleAppointmentSQL = `
		UPDATE appointments
		SET payment_status = 'paid',
		    enabled = TRUE,
		    payment_method = COALESCE(payment_method, $2),
		    payment_reference = COALESCE(payment_reference, $3),
		    paid_at = COALESCE(paid_at, now()),
		    updated_at = now()
		WHERE id = $1
		  AND payment_status <> 'paid'`
)

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID,
		&inv.PatientID,
		&inv.TreatmentID,
		&inv.AppointmentID,
		&inv.Total,
		&inv.Balance,
		&inv.Status,
		&inv.Description,
		&inv.Notes,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.InvoiceID,
		&p.PatientID,
		&p.Amount,
		&p.Method,
		&p.Status,
		&p.ProviderReference,
		&p.IdempotencyKey,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanInvoiceDetail(row pgx.Row) (*InvoiceDetail, error) {
	var (
		d         InvoiceDetail
		patient   clinic.PatientSummary
		treatID   *uuid.UUID
		treatName *string
		treatCost *int64
		apptID    *uuid.UUID
		apptDate  *time.Time
		apptSlot  *string
	)

	err := row.Scan(
		&d.ID, &d.PatientID, &d.TreatmentID, &d.AppointmentID, &d.Total, &d.Balance, &d.Status,
		&d.Description, &d.Notes, &d.CreatedAt, &d.UpdatedAt,
		&patient.ID, &patient.Name, &patient.DocumentNumber, &patient.Email, &patient.Phone,
		&treatID, &treatName, &treatCost,
		&apptID, &apptDate, &apptSlot,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}

	d.Patient = &patient
	if treatID != nil {
		d.Treatment = &clinic.TreatmentSummary{ID: *treatID, Name: deref(treatName), Price: derefInt(treatCost)}
	}
	if apptID != nil {
		d.Appointment = &AppointmentRef{ID: *apptID, Date: derefTime(apptDate), Slot: deref(apptSlot)}
	}
	return &d, nil
}

func (r *PgRepository) CreateInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO invoices AS i (id, patient_id, treatment_id, appointment_id, total, balance, status,
			description, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8, now(), now())
		RETURNING `+invoiceColumns,
		uuid.New(), inv.PatientID, inv.TreatmentID, inv.AppointmentID, inv.Total,
		DeriveStatus(inv.Total, inv.Total), inv.Description, inv.Notes)
	return scanInvoice(row)
}

func (r *PgRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices i WHERE i.id = $1`, id)
	return scanInvoice(row)
}

func (r *PgRepository) FindByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	return FindByAppointment(ctx, r.pool, appointmentID)
}

// FindByAppointment returns the newest invoice referencing the appointment.
func FindByAppointment(ctx context.Context, q db.Querier, appointmentID uuid.UUID) (*Invoice, error) {
	row := q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.appointment_id = $1
		ORDER BY i.created_at DESC
		LIMIT 1
	`, appointmentID)
	return scanInvoice(row)
}

func (r *PgRepository) GetInvoiceDetail(ctx context.Context, id uuid.UUID) (*InvoiceDetail, error) {
	row := r.pool.QueryRow(ctx, detailSelect+` WHERE i.id = $1`, id)
	d, err := scanInvoiceDetail(row)
	if err != nil {
		return nil, err
	}

	details := []InvoiceDetail{*d}
	if err := r.attachPayments(ctx, details); err != nil {
		return nil, err
	}
	return &details[0], nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]InvoiceDetail, error) {
	return r.listDetails(ctx, detailSelect+`
		WHERE i.patient_id = $1
		ORDER BY i.created_at DESC
	`, patientID)
}

func (r *PgRepository) ListAll(ctx context.Context, limit, offset int) ([]InvoiceDetail, error) {
	return r.listDetails(ctx, detailSelect+`
		ORDER BY i.created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
}

func (r *PgRepository) listDetails(ctx context.Context, query string, args ...any) ([]InvoiceDetail, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []InvoiceDetail
	for rows.Next() {
		d, err := scanInvoiceDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachPayments(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) attachPayments(ctx context.Context, details []InvoiceDetail) error {
	if len(details) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(details))
	byID := make(map[uuid.UUID]int, len(details))
	for i, d := range details {
		ids[i] = d.ID
		byID[d.ID] = i
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE invoice_id = ANY($1)
		ORDER BY created_at
	`, ids)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return err
		}
		i := byID[p.InvoiceID]
		details[i].Payments = append(details[i].Payments, *p)
	}
	return rows.Err()
}

func (r *PgRepository) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key)
	return scanPayment(row)
}

func (r *PgRepository) ApplyPayment(ctx context.Context, rec PaymentRecord) (*Invoice, *Payment, error) {
	var (
		inv *Invoice
		pay *Payment
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		inv, pay, err = ApplyPaymentTx(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, pay, nil
}

// ApplyPaymentTx locks the invoice row, decrements its balance and inserts the
// applied payment. When the balance reaches zero the linked appointment is
// marked paid as well. q must be a transaction so the row lock and every
// write commit or roll back together.
func ApplyPaymentTx(ctx context.Context, q db.Querier, rec PaymentRecord) (*Invoice, *Payment, error) {
	current, err := scanInvoice(q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.id = $1
		FOR UPDATE
	`, rec.InvoiceID))
	if err != nil {
		return nil, nil, err
	}

	if rec.Amount > current.Balance {
		return nil, nil, ErrExceedsBalance
	}
	newBalance := current.Balance - rec.Amount

	updated, err := scanInvoice(q.QueryRow(ctx, `
		UPDATE invoices AS i
		SET balance = $2,
		    status = $3,
		    updated_at = now()
		WHERE i.id = $1
		RETURNING `+invoiceColumns,
		rec.InvoiceID, newBalance, DeriveStatus(current.Total, newBalance)))
	if err != nil {
		return nil, nil, fmt.Errorf("update invoice balance: %w", err)
	}

	if updated.Balance == 0 && updated.AppointmentID != nil {
		if _, err := q.Exec(ctx, settleAppointmentSQL, *updated.AppointmentID, rec.Method, rec.ProviderReference); err != nil {
			return nil, nil, fmt.Errorf("settle appointment: %w", err)
		}
	}

	pay, err := scanPayment(q.QueryRow(ctx, `
		INSERT INTO payments (id, invoice_id, patient_id, amount, method, status, provider_reference, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), now())
		RETURNING `+paymentColumns,
		uuid.New(), rec.InvoiceID, current.PatientID, rec.Amount, rec.Method, PaymentApplied,
		rec.ProviderReference, rec.IdempotencyKey))
	if err != nil {
		if db.IsUniqueViolation(err, constraintIdempotencyKey) {
			return nil, nil, ErrDuplicatePayment
		}
		return nil, nil, fmt.Errorf("insert payment: %w", err)
	}

	return updated, pay, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
