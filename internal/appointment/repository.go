package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

var (
	ErrAppointmentNotFound = apperr.New(apperr.KindNotFound, "appointment not found")
	ErrSlotTaken           = apperr.New(apperr.KindSlotConflict, "slot already has an active appointment")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)

	// OccupiedSlots lists slots held by non-cancelled appointments.
	OccupiedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]AppointmentDetail, error)
	ListByStatus(ctx context.Context, status AppointmentStatus, limit, offset int) ([]AppointmentDetail, error)
	ListAll(ctx context.Context, limit, offset int) ([]AppointmentDetail, error)

	// Create provisions the patient when needed and claims the slot in one
	// transaction; a held slot yields ErrSlotTaken.
	Create(ctx context.Context, in NewAppointment) (*Appointment, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, patch DetailsPatch) (*Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, date time.Time, slot string) (*Appointment, error)

	// MarkPaid sets the payment fields and, for invoice-backed appointments,
	// applies the invoice payment, all in one transaction.
	MarkPaid(ctx context.Context, id uuid.UUID, s Settlement) (*Appointment, error)

	MarkOverdue(ctx context.Context, before time.Time) ([]Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
