package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/billing"
	"github.com/hackgods/clinic-booking/internal/calendar"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/payment"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ListAppointments(ctx context.Context, limit, offset int) ([]appointment.AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.AppointmentDetail, error)
	ListAppointmentsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.AppointmentDetail, error)
	ListAppointmentsByStatus(ctx context.Context, status appointment.AppointmentStatus, limit, offset int) ([]appointment.AppointmentDetail, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to appointment.AppointmentStatus) (*appointment.Appointment, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, patch appointment.DetailsPatch) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, date time.Time, slot string) (*appointment.Appointment, error)
	RegisterPayment(ctx context.Context, in appointment.PaymentInput) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	HardDelete(ctx context.Context, id uuid.UUID) error
	FreeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error)
}

type BillingService interface {
	CreateInvoice(ctx context.Context, in billing.CreateInvoiceInput) (*billing.Invoice, error)
	ApplyPayment(ctx context.Context, in billing.ApplyInput) (*billing.Receipt, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*billing.InvoiceDetail, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]billing.InvoiceDetail, error)
	ListAll(ctx context.Context, limit, offset int) ([]billing.InvoiceDetail, error)
}

type ClinicService interface {
	RegisterPatient(ctx context.Context, p clinic.Profile) (*clinic.Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*clinic.Patient, error)
	LookupPatientByDocument(ctx context.Context, documentNumber string) (*clinic.Patient, error)
	ListDoctors(ctx context.Context) ([]clinic.Doctor, error)
	ListTreatments(ctx context.Context) ([]clinic.Treatment, error)
}

type Handler struct {
	appointments AppointmentService
	billing      BillingService
	clinic       ClinicService
	validate     *validator.Validate
	log          *zap.Logger
}

func NewHandler(appointments AppointmentService, billing BillingService, clinic ClinicService, grid calendar.Grid, log *zap.Logger) *Handler {
	return &Handler{
		appointments: appointments,
		billing:      billing,
		clinic:       clinic,
		validate:     newValidator(grid),
		log:          log,
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeAppError(w, r, h.log, err)
}

func (h *Handler) pathID(r *http.Request) (uuid.UUID, error) {
	return parseUUID(chi.URLParam(r, "id"), "id")
}

// idempotencyKey prefers the Idempotency-Key header over the body field.
func idempotencyKey(r *http.Request, body string) string {
	if k := strings.TrimSpace(r.Header.Get("Idempotency-Key")); k != "" {
		return k
	}
	return strings.TrimSpace(body)
}

// Appointments

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	doctorID, err := parseUUID(req.DoctorID, "doctor_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	patientID, err := parseOptionalUUID(req.PatientID, "patient_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	treatmentID, err := parseOptionalUUID(req.TreatmentID, "treatment_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := calendar.ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, apperr.Invalid(map[string]string{"date": "must be a date in YYYY-MM-DD format"}))
		return
	}

	in := appointment.CreateInput{
		DoctorID:        doctorID,
		PatientID:       patientID,
		TreatmentID:     treatmentID,
		Date:            date,
		Slot:            req.Slot,
		Reason:          req.Reason,
		DurationMinutes: req.DurationMinutes,
		Room:            req.Room,
		Notes:           req.Notes,
		Cost:            req.Cost,
	}
	if patientID == nil && req.Patient != nil {
		profile := clinic.Profile{
			DocumentNumber: req.Patient.DocumentNumber,
			Name:           req.Patient.Name,
			Email:          req.Patient.Email,
			Phone:          req.Patient.Phone,
		}
		if p, ok := PrincipalFrom(r.Context()); ok {
			profile.UserID = p.UserID
		}
		in.Profile = &profile
	}

	appt, err := h.appointments.CreateAppointment(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	detail, err := h.appointments.GetAppointment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentDetailResponse(*detail))
}

// listAppointments filters by one of patient_id, doctor_id+date or status;
// with no filter it pages through everything.
func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	ctx := r.Context()

	var list []appointment.AppointmentDetail

	switch {
	case q.Get("patient_id") != "":
		patientID, perr := parseUUID(q.Get("patient_id"), "patient_id")
		if perr != nil {
			h.fail(w, r, perr)
			return
		}
		list, err = h.appointments.ListAppointmentsByPatient(ctx, patientID, limit, offset)

	case q.Get("doctor_id") != "":
		doctorID, perr := parseUUID(q.Get("doctor_id"), "doctor_id")
		if perr != nil {
			h.fail(w, r, perr)
			return
		}
		date, derr := calendar.ParseDate(q.Get("date"))
		if derr != nil {
			h.fail(w, r, apperr.Invalid(map[string]string{"date": "is required with doctor_id, format YYYY-MM-DD"}))
			return
		}
		list, err = h.appointments.ListAppointmentsByDoctorDate(ctx, doctorID, date)

	case q.Get("status") != "":
		list, err = h.appointments.ListAppointmentsByStatus(ctx, appointment.AppointmentStatus(q.Get("status")), limit, offset)

	default:
		list, err = h.appointments.ListAppointments(ctx, limit, offset)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentList(list))
}

func (h *Handler) updateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateStatusRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	appt, err := h.appointments.UpdateStatus(r.Context(), id, appointment.AppointmentStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *Handler) updateAppointmentDetails(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateDetailsRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	appt, err := h.appointments.UpdateDetails(r.Context(), id, appointment.DetailsPatch{
		DurationMinutes: req.DurationMinutes,
		Room:            req.Room,
		Cost:            req.Cost,
		Notes:           req.Notes,
		Reason:          req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *Handler) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req RescheduleRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := calendar.ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, apperr.Invalid(map[string]string{"date": "must be a date in YYYY-MM-DD format"}))
		return
	}

	appt, err := h.appointments.Reschedule(r.Context(), id, date, req.Slot)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *Handler) registerAppointmentPayment(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req PaymentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	appt, err := h.appointments.RegisterPayment(r.Context(), appointment.PaymentInput{
		AppointmentID:  id,
		Method:         payment.Method(req.Method),
		Reference:      req.Reference,
		CardToken:      req.CardToken,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	appt, err := h.appointments.Cancel(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *Handler) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.appointments.HardDelete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) doctorSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := calendar.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, apperr.Invalid(map[string]string{"date": "must be a date in YYYY-MM-DD format"}))
		return
	}

	slots, err := h.appointments.FreeSlots(r.Context(), doctorID, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if slots == nil {
		slots = []string{}
	}

	writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Date: date.Format(time.DateOnly), Slots: slots})
}

// Invoices

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	patientID, err := parseUUID(req.PatientID, "patient_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	treatmentID, err := parseOptionalUUID(req.TreatmentID, "treatment_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appointmentID, err := parseOptionalUUID(req.AppointmentID, "appointment_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	inv, err := h.billing.CreateInvoice(r.Context(), billing.CreateInvoiceInput{
		PatientID:     patientID,
		TreatmentID:   treatmentID,
		AppointmentID: appointmentID,
		Total:         req.Total,
		Description:   req.Description,
		Notes:         req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvoiceResponse(*inv))
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	detail, err := h.billing.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceDetailResponse(*detail))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	var (
		list []billing.InvoiceDetail
		err  error
	)

	if raw := r.URL.Query().Get("patient_id"); raw != "" {
		patientID, perr := parseUUID(raw, "patient_id")
		if perr != nil {
			h.fail(w, r, perr)
			return
		}
		list, err = h.billing.ListByPatient(r.Context(), patientID)
	} else {
		limit, offset, perr := page(r)
		if perr != nil {
			h.fail(w, r, perr)
			return
		}
		list, err = h.billing.ListAll(r.Context(), limit, offset)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceList(list))
}

func (h *Handler) applyInvoicePayment(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ApplyPaymentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	receipt, err := h.billing.ApplyPayment(r.Context(), billing.ApplyInput{
		InvoiceID:      id,
		Amount:         req.Amount,
		Method:         payment.Method(req.Method),
		Reference:      req.Reference,
		CardToken:      req.CardToken,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, ReceiptResponse{
		Invoice:  toInvoiceResponse(*receipt.Invoice),
		Payment:  toPaymentResponse(*receipt.Payment),
		Replayed: receipt.Replayed,
	})
}

// Clinic

func (h *Handler) registerPatient(w http.ResponseWriter, r *http.Request) {
	var req PatientProfileRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	profile := clinic.Profile{
		DocumentNumber: req.DocumentNumber,
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
	}
	if p, ok := PrincipalFrom(r.Context()); ok {
		profile.UserID = p.UserID
	}

	patient, err := h.clinic.RegisterPatient(r.Context(), profile)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPatientResponse(*patient))
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	patient, err := h.clinic.GetPatient(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPatientResponse(*patient))
}

func (h *Handler) lookupPatient(w http.ResponseWriter, r *http.Request) {
	doc := r.URL.Query().Get("document_number")
	if strings.TrimSpace(doc) == "" {
		h.fail(w, r, apperr.Invalid(map[string]string{"document_number": "is required"}))
		return
	}

	patient, err := h.clinic.LookupPatientByDocument(r.Context(), doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if patient == nil {
		h.fail(w, r, clinic.ErrPatientNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toPatientResponse(*patient))
}

func (h *Handler) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.clinic.ListDoctors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]DoctorResponse, 0, len(doctors))
	for _, d := range doctors {
		out = append(out, DoctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty, Active: d.Active})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listTreatments(w http.ResponseWriter, r *http.Request) {
	treatments, err := h.clinic.ListTreatments(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]TreatmentResponse, 0, len(treatments))
	for _, t := range treatments {
		out = append(out, TreatmentResponse{ID: t.ID, Name: t.Name, Price: t.Price, DurationMinutes: t.DurationMinutes})
	}
	writeJSON(w, http.StatusOK, out)
}
