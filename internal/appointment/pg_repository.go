package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/billing"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/db"
)

const constraintSlot = "appointments_slot_uniq"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	appointmentColumns = `a.id, a.patient_id, a.doctor_id, a.treatment_id, a.date, a.slot, a.duration_minutes,
		a.room, a.reason, a.notes, a.cost, a.status, a.payment_status, a.enabled, a.payment_method,
		a.payment_reference, a.paid_at, a.created_at, a.updated_at`

	detailSelect = `SELECT ` + appointmentColumns + `,
			p.id, p.name, p.document_number, p.email, p.phone,
			d.id, d.name, d.specialty,
			t.id, t.name, t.price
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN doctors d ON d.id = a.doctor_id
		LEFT JOIN treatments t ON t.id = a.treatment_id`
)

// Helpers

func appointmentDest(a *Appointment) []any {
	return []any{
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.TreatmentID,
		&a.Date,
		&a.Slot,
		&a.DurationMinutes,
		&a.Room,
		&a.Reason,
		&a.Notes,
		&a.Cost,
		&a.Status,
		&a.PaymentStatus,
		&a.Enabled,
		&a.PaymentMethod,
		&a.PaymentReference,
		&a.PaidAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(appointmentDest(&a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var (
		d         AppointmentDetail
		patient   clinic.PatientSummary
		doctor    clinic.DoctorSummary
		treatID   *uuid.UUID
		treatName *string
		treatCost *int64
	)

	dest := appointmentDest(&d.Appointment)
	dest = append(dest,
		&patient.ID, &patient.Name, &patient.DocumentNumber, &patient.Email, &patient.Phone,
		&doctor.ID, &doctor.Name, &doctor.Specialty,
		&treatID, &treatName, &treatCost,
	)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.Patient = &patient
	d.Doctor = &doctor
	if treatID != nil {
		t := clinic.TreatmentSummary{ID: *treatID}
		if treatName != nil {
			t.Name = *treatName
		}
		if treatCost != nil {
			t.Price = *treatCost
		}
		d.Treatment = &t
	}
	return &d, nil
}

func translateWriteErr(err error) error {
	if db.IsUniqueViolation(err, constraintSlot) {
		return ErrSlotTaken
	}
	return err
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a WHERE a.id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, detailSelect+` WHERE a.id = $1`, id)
	return scanDetail(row)
}

func (r *PgRepository) OccupiedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status <> 'cancelled'
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	return r.listDetails(ctx, detailSelect+`
		WHERE a.patient_id = $1
		ORDER BY a.date DESC, a.slot DESC, a.created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
}

func (r *PgRepository) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]AppointmentDetail, error) {
	return r.listDetails(ctx, detailSelect+`
		WHERE a.doctor_id = $1 AND a.date = $2
		ORDER BY a.slot, a.created_at
	`, doctorID, date)
}

func (r *PgRepository) ListByStatus(ctx context.Context, status AppointmentStatus, limit, offset int) ([]AppointmentDetail, error) {
	return r.listDetails(ctx, detailSelect+`
		WHERE a.status = $1
		ORDER BY a.date DESC, a.slot DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
}

func (r *PgRepository) ListAll(ctx context.Context, limit, offset int) ([]AppointmentDetail, error) {
	return r.listDetails(ctx, detailSelect+`
		ORDER BY a.date DESC, a.slot DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
}

func (r *PgRepository) listDetails(ctx context.Context, query string, args ...any) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) Create(ctx context.Context, in NewAppointment) (*Appointment, error) {
	var created *Appointment

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var patientID uuid.UUID
		switch {
		case in.PatientID != nil:
			patientID = *in.PatientID
		case in.Profile != nil:
			p, err := clinic.ProvisionPatient(ctx, tx, *in.Profile)
			if err != nil {
				return err
			}
			patientID = p.ID
		default:
			return errors.New("create appointment: no patient given")
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO appointments AS a (id, patient_id, doctor_id, treatment_id, date, slot, duration_minutes,
				room, reason, notes, cost, status, payment_status, enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', 'unpaid', FALSE, now(), now())
			RETURNING `+appointmentColumns,
			uuid.New(), patientID, in.DoctorID, in.TreatmentID, in.Date, in.Slot, in.DurationMinutes,
			in.Room, in.Reason, in.Notes, in.Cost)

		a, err := scanAppointment(row)
		if err != nil {
			return translateWriteErr(err)
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments AS a
		SET status = $2,
		    updated_at = now()
		WHERE a.id = $1
		RETURNING `+appointmentColumns, id, to)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, translateWriteErr(err)
	}
	return a, nil
}

func (r *PgRepository) UpdateDetails(ctx context.Context, id uuid.UUID, patch DetailsPatch) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments AS a
		SET duration_minutes = COALESCE($2, a.duration_minutes),
		    room = COALESCE($3, a.room),
		    cost = COALESCE($4, a.cost),
		    notes = COALESCE($5, a.notes),
		    reason = COALESCE($6, a.reason),
		    updated_at = now()
		WHERE a.id = $1
		RETURNING `+appointmentColumns,
		id, patch.DurationMinutes, patch.Room, patch.Cost, patch.Notes, patch.Reason)

	return scanAppointment(row)
}

func (r *PgRepository) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, slot string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments AS a
		SET date = $2,
		    slot = $3,
		    status = 'rescheduled',
		    updated_at = now()
		WHERE a.id = $1
		  AND a.status NOT IN ('cancelled', 'completed')
		RETURNING `+appointmentColumns, id, date, slot)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, translateWriteErr(err)
	}
	return a, nil
}

func (r *PgRepository) MarkPaid(ctx context.Context, id uuid.UUID, s Settlement) (*Appointment, error) {
	var paid *Appointment

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if s.Invoice != nil {
			_, _, err := billing.ApplyPaymentTx(ctx, tx, billing.PaymentRecord{
				InvoiceID:         s.Invoice.InvoiceID,
				Amount:            s.Invoice.Amount,
				Method:            s.Method,
				ProviderReference: s.Reference,
				IdempotencyKey:    s.Invoice.IdempotencyKey,
			})
			if err != nil {
				return fmt.Errorf("apply invoice payment: %w", err)
			}
		}

		row := tx.QueryRow(ctx, `
			UPDATE appointments AS a
			SET payment_status = 'paid',
			    enabled = TRUE,
			    payment_method = $2,
			    payment_reference = $3,
			    paid_at = $4,
			    updated_at = now()
			WHERE a.id = $1
			RETURNING `+appointmentColumns, id, s.Method, s.Reference, s.PaidAt)

		a, err := scanAppointment(row)
		if err != nil {
			return err
		}
		paid = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	return paid, nil
}

func (r *PgRepository) MarkOverdue(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE appointments AS a
		SET payment_status = 'overdue',
		    updated_at = now()
		WHERE a.payment_status = 'unpaid'
		  AND a.status <> 'cancelled'
		  AND a.date < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM invoices i
		      WHERE i.appointment_id = a.id AND i.balance = 0
		  )
		RETURNING `+appointmentColumns, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
