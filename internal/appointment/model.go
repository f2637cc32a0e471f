package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/payment"
)

type AppointmentStatus string

const (
	StatusPending     AppointmentStatus = "pending"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

func ParseStatus(raw string) (AppointmentStatus, bool) {
	switch s := AppointmentStatus(raw); s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusRescheduled:
		return s, true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	TreatmentID     *uuid.UUID
	Date            time.Time // civil date at UTC midnight
	Slot            string    // HH:MM on the clinic grid
	DurationMinutes *int
	Room            *string
	Reason          string
	Notes           *string
	Cost            int64

	Status           AppointmentStatus
	PaymentStatus    PaymentStatus
	Enabled          bool
	PaymentMethod    *payment.Method
	PaymentReference *string
	PaidAt           *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Patient   *clinic.PatientSummary
	Doctor    *clinic.DoctorSummary
	Treatment *clinic.TreatmentSummary
}

// NewAppointment is what the repository inserts. Exactly one of PatientID
// and Profile is set.
type NewAppointment struct {
	PatientID       *uuid.UUID
	Profile         *clinic.Profile
	DoctorID        uuid.UUID
	TreatmentID     *uuid.UUID
	Date            time.Time
	Slot            string
	DurationMinutes *int
	Room            *string
	Reason          string
	Notes           *string
	Cost            int64
}

// DetailsPatch carries the fields UpdateDetails may change; nil leaves a
// field as is.
type DetailsPatch struct {
	DurationMinutes *int
	Room            *string
	Cost            *int64
	Notes           *string
	Reason          *string
}

func (p DetailsPatch) Empty() bool {
	return p.DurationMinutes == nil && p.Room == nil && p.Cost == nil && p.Notes == nil && p.Reason == nil
}

// Settlement is the payment side of RegisterPayment, persisted together with
// the appointment's payment fields.
type Settlement struct {
	Method    payment.Method
	Reference string
	PaidAt    time.Time
	// Invoice is set when the appointment is invoice-backed.
	Invoice *InvoiceCharge
}

type InvoiceCharge struct {
	InvoiceID      uuid.UUID
	Amount         int64
	IdempotencyKey string
}
