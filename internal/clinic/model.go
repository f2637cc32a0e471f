// Package clinic holds the reference entities appointments and invoices
// point at: patients, doctors and treatments.
package clinic

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

var (
	ErrPatientNotFound   = apperr.New(apperr.KindNotFound, "patient not found")
	ErrDoctorNotFound    = apperr.New(apperr.KindNotFound, "doctor not found")
	ErrTreatmentNotFound = apperr.New(apperr.KindNotFound, "treatment not found")
)

type Patient struct {
	ID             uuid.UUID
	UserID         *string
	DocumentNumber string
	Name           string
	Email          *string
	Phone          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Treatment struct {
	ID              uuid.UUID
	Name            string
	Price           int64
	DurationMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Profile is the identity a signed-in user books with before the clinic
// has a patient record for them.
type Profile struct {
	UserID         string
	DocumentNumber string
	Name           string
	Email          string
	Phone          string
}

// Summaries are the joined views shown next to appointments and invoices.

type PatientSummary struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	DocumentNumber string    `json:"document_number"`
	Email          *string   `json:"email,omitempty"`
	Phone          *string   `json:"phone,omitempty"`
}

type DoctorSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type TreatmentSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Price int64     `json:"price"`
}
