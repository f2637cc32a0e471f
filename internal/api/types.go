package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/billing"
	"github.com/hackgods/clinic-booking/internal/clinic"
)

// Requests

type PatientProfileRequest struct {
	DocumentNumber string `json:"document_number" validate:"required,max=32"`
	Name           string `json:"name" validate:"required,max=200"`
	Email          string `json:"email" validate:"omitempty,email"`
	Phone          string `json:"phone" validate:"omitempty,max=32"`
}

type CreateAppointmentRequest struct {
	DoctorID        string                 `json:"doctor_id" validate:"required,uuid"`
	PatientID       string                 `json:"patient_id" validate:"omitempty,uuid"`
	Patient         *PatientProfileRequest `json:"patient" validate:"required_without=PatientID"`
	TreatmentID     string                 `json:"treatment_id" validate:"omitempty,uuid"`
	Date            string                 `json:"date" validate:"required,civil_date"`
	Slot            string                 `json:"slot" validate:"required,slot"`
	Reason          string                 `json:"reason" validate:"required,max=500"`
	DurationMinutes *int                   `json:"duration_minutes" validate:"omitempty,min=1,max=480"`
	Room            string                 `json:"room" validate:"max=50"`
	Notes           string                 `json:"notes" validate:"max=2000"`
	Cost            int64                  `json:"cost" validate:"min=0"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,appointment_status"`
}

type UpdateDetailsRequest struct {
	DurationMinutes *int    `json:"duration_minutes" validate:"omitempty,min=1,max=480"`
	Room            *string `json:"room" validate:"omitempty,max=50"`
	Cost            *int64  `json:"cost" validate:"omitempty,min=0"`
	Notes           *string `json:"notes" validate:"omitempty,max=2000"`
	Reason          *string `json:"reason" validate:"omitempty,min=1,max=500"`
}

type RescheduleRequest struct {
	Date string `json:"date" validate:"required,civil_date"`
	Slot string `json:"slot" validate:"required,slot"`
}

type PaymentRequest struct {
	Method         string `json:"method" validate:"required,payment_method"`
	Reference      string `json:"reference" validate:"max=128"`
	CardToken      string `json:"card_token" validate:"required_if=Method card"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

type CreateInvoiceRequest struct {
	PatientID     string `json:"patient_id" validate:"required,uuid"`
	TreatmentID   string `json:"treatment_id" validate:"omitempty,uuid"`
	AppointmentID string `json:"appointment_id" validate:"omitempty,uuid"`
	Total         int64  `json:"total" validate:"required,gt=0"`
	Description   string `json:"description" validate:"max=500"`
	Notes         string `json:"notes" validate:"max=2000"`
}

type ApplyPaymentRequest struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	Method         string `json:"method" validate:"required,payment_method"`
	Reference      string `json:"reference" validate:"max=128"`
	CardToken      string `json:"card_token" validate:"required_if=Method card"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

// Responses

type AppointmentResponse struct {
	ID               uuid.UUID                `json:"id"`
	PatientID        uuid.UUID                `json:"patient_id"`
	DoctorID         uuid.UUID                `json:"doctor_id"`
	TreatmentID      *uuid.UUID               `json:"treatment_id,omitempty"`
	Date             string                   `json:"date"`
	Slot             string                   `json:"slot"`
	DurationMinutes  *int                     `json:"duration_minutes,omitempty"`
	Room             *string                  `json:"room,omitempty"`
	Reason           string                   `json:"reason"`
	Notes            *string                  `json:"notes,omitempty"`
	Cost             int64                    `json:"cost"`
	Status           string                   `json:"status"`
	PaymentStatus    string                   `json:"payment_status"`
	Enabled          bool                     `json:"enabled"`
	PaymentMethod    *string                  `json:"payment_method,omitempty"`
	PaymentReference *string                  `json:"payment_reference,omitempty"`
	PaidAt           *time.Time               `json:"paid_at,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
	Patient          *clinic.PatientSummary   `json:"patient,omitempty"`
	Doctor           *clinic.DoctorSummary    `json:"doctor,omitempty"`
	Treatment        *clinic.TreatmentSummary `json:"treatment,omitempty"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Slots    []string  `json:"slots"`
}

type PaymentResponse struct {
	ID                uuid.UUID `json:"id"`
	InvoiceID         uuid.UUID `json:"invoice_id"`
	Amount            int64     `json:"amount"`
	Method            string    `json:"method"`
	Status            string    `json:"status"`
	ProviderReference string    `json:"provider_reference"`
	CreatedAt         time.Time `json:"created_at"`
}

type InvoiceResponse struct {
	ID            uuid.UUID                `json:"id"`
	PatientID     uuid.UUID                `json:"patient_id"`
	TreatmentID   *uuid.UUID               `json:"treatment_id,omitempty"`
	AppointmentID *uuid.UUID               `json:"appointment_id,omitempty"`
	Total         int64                    `json:"total"`
	Balance       int64                    `json:"balance"`
	Status        string                   `json:"status"`
	Description   *string                  `json:"description,omitempty"`
	Notes         *string                  `json:"notes,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
	Payments      []PaymentResponse        `json:"payments,omitempty"`
	Patient       *clinic.PatientSummary   `json:"patient,omitempty"`
	Treatment     *clinic.TreatmentSummary `json:"treatment,omitempty"`
	Appointment   *AppointmentRefResponse  `json:"appointment,omitempty"`
}

type AppointmentRefResponse struct {
	ID   uuid.UUID `json:"id"`
	Date string    `json:"date"`
	Slot string    `json:"slot"`
}

type ReceiptResponse struct {
	Invoice  InvoiceResponse `json:"invoice"`
	Payment  PaymentResponse `json:"payment"`
	Replayed bool            `json:"replayed"`
}

type PatientResponse struct {
	ID             uuid.UUID `json:"id"`
	DocumentNumber string    `json:"document_number"`
	Name           string    `json:"name"`
	Email          *string   `json:"email,omitempty"`
	Phone          *string   `json:"phone,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
	Active    bool      `json:"active"`
}

type TreatmentResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Price           int64     `json:"price"`
	DurationMinutes int       `json:"duration_minutes"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Converters

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:               a.ID,
		PatientID:        a.PatientID,
		DoctorID:         a.DoctorID,
		TreatmentID:      a.TreatmentID,
		Date:             a.Date.Format(time.DateOnly),
		Slot:             a.Slot,
		DurationMinutes:  a.DurationMinutes,
		Room:             a.Room,
		Reason:           a.Reason,
		Notes:            a.Notes,
		Cost:             a.Cost,
		Status:           string(a.Status),
		PaymentStatus:    string(a.PaymentStatus),
		Enabled:          a.Enabled,
		PaymentReference: a.PaymentReference,
		PaidAt:           a.PaidAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
	if a.PaymentMethod != nil {
		m := string(*a.PaymentMethod)
		resp.PaymentMethod = &m
	}
	return resp
}

func toAppointmentDetailResponse(d appointment.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(d.Appointment)
	resp.Patient = d.Patient
	resp.Doctor = d.Doctor
	resp.Treatment = d.Treatment
	return resp
}

func toAppointmentList(list []appointment.AppointmentDetail) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toAppointmentDetailResponse(d))
	}
	return out
}

func toPaymentResponse(p billing.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                p.ID,
		InvoiceID:         p.InvoiceID,
		Amount:            p.Amount,
		Method:            string(p.Method),
		Status:            string(p.Status),
		ProviderReference: p.ProviderReference,
		CreatedAt:         p.CreatedAt,
	}
}

func toInvoiceResponse(inv billing.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:            inv.ID,
		PatientID:     inv.PatientID,
		TreatmentID:   inv.TreatmentID,
		AppointmentID: inv.AppointmentID,
		Total:         inv.Total,
		Balance:       inv.Balance,
		Status:        string(inv.Status),
		Description:   inv.Description,
		Notes:         inv.Notes,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
}

func toInvoiceDetailResponse(d billing.InvoiceDetail) InvoiceResponse {
	resp := toInvoiceResponse(d.Invoice)
	for _, p := range d.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(p))
	}
	resp.Patient = d.Patient
	resp.Treatment = d.Treatment
	if d.Appointment != nil {
		resp.Appointment = &AppointmentRefResponse{
			ID:   d.Appointment.ID,
			Date: d.Appointment.Date.Format(time.DateOnly),
			Slot: d.Appointment.Slot,
		}
	}
	return resp
}

func toInvoiceList(list []billing.InvoiceDetail) []InvoiceResponse {
	out := make([]InvoiceResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toInvoiceDetailResponse(d))
	}
	return out
}

func toPatientResponse(p clinic.Patient) PatientResponse {
	return PatientResponse{
		ID:             p.ID,
		DocumentNumber: p.DocumentNumber,
		Name:           p.Name,
		Email:          p.Email,
		Phone:          p.Phone,
		CreatedAt:      p.CreatedAt,
	}
}
