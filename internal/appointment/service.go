package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/billing"
	"github.com/hackgods/clinic-booking/internal/calendar"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/payment"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

// settleTimeout bounds the ledger write that follows a successful charge.
const settleTimeout = 10 * time.Second

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentRescheduled   = "APPOINTMENT_RESCHEDULED"
	EventAppointmentPaid          = "APPOINTMENT_PAID"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
	EventAppointmentOverdue       = "APPOINTMENT_OVERDUE"
)

var (
	ErrSlotBeingBooked         = apperr.New(apperr.KindSlotConflict, "slot is currently being booked, please retry")
	ErrPaymentInProgress       = apperr.New(apperr.KindGatewayUnavailable, "a payment for this appointment is in progress, retry shortly")
	ErrInvalidStatusTransition = apperr.New(apperr.KindInvalidArgument, "invalid status transition")
	ErrDoctorUnavailable       = apperr.New(apperr.KindInvalidArgument, "doctor is not accepting appointments")
	ErrNothingToCharge         = apperr.New(apperr.KindInvalidArgument, "appointment has no cost to charge")
	ErrCancelledNotPayable     = apperr.New(apperr.KindInvalidArgument, "cancelled appointments cannot be paid")
)

// ClinicLookup is the part of the clinic repository the lifecycle reads.
type ClinicLookup interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*clinic.Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*clinic.Doctor, error)
	GetTreatmentByID(ctx context.Context, id uuid.UUID) (*clinic.Treatment, error)
}

// Ledger is the invoice side of a payment registration.
type Ledger interface {
	FindByAppointment(ctx context.Context, appointmentID uuid.UUID) (*billing.Invoice, error)
	Collect(ctx context.Context, method payment.Method, req payment.ChargeRequest) (string, error)
}

type Deps struct {
	Repo     Repository
	Clinic   ClinicLookup
	Ledger   Ledger
	Locker   redisclient.Locker
	Grid     calendar.Grid
	Policy   TransitionPolicy
	Notifier notify.Notifier
	Currency string
	Log      *zap.Logger
}

type Service struct {
	repo     Repository
	clinic   ClinicLookup
	ledger   Ledger
	locker   redisclient.Locker
	grid     calendar.Grid
	policy   TransitionPolicy
	notifier notify.Notifier
	currency string
	log      *zap.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	policy := d.Policy
	if policy == nil {
		policy = LoosePolicy{}
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     d.Repo,
		clinic:   d.Clinic,
		ledger:   d.Ledger,
		locker:   d.Locker,
		grid:     d.Grid,
		policy:   policy,
		notifier: notifier,
		currency: d.Currency,
		log:      log,
		now:      time.Now,
	}
}

// FreeSlots returns the grid slots not held by a non-cancelled appointment
// for the doctor on date.
func (s *Service) FreeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	if _, err := s.clinic.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	occupied, err := s.repo.OccupiedSlots(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load occupied slots: %w", err)
	}

	return s.grid.Free(occupied), nil
}

type CreateInput struct {
	DoctorID        uuid.UUID
	PatientID       *uuid.UUID
	Profile         *clinic.Profile
	TreatmentID     *uuid.UUID
	Date            time.Time
	Slot            string
	Reason          string
	DurationMinutes *int
	Room            string
	Notes           string
	Cost            int64
}

func (s *Service) validateCreate(in CreateInput) error {
	fields := map[string]string{}
	if in.Date.IsZero() {
		fields["date"] = "is required"
	}
	if !s.grid.Contains(in.Slot) {
		fields["slot"] = "must be one of " + strings.Join(s.grid.Slots(), ", ")
	}
	if strings.TrimSpace(in.Reason) == "" {
		fields["reason"] = "is required"
	}
	if in.Cost < 0 {
		fields["cost"] = "must not be negative"
	}
	if in.DurationMinutes != nil && *in.DurationMinutes <= 0 {
		fields["duration_minutes"] = "must be greater than zero"
	}
	switch {
	case in.PatientID == nil && in.Profile == nil:
		fields["patient_id"] = "or a patient profile is required"
	case in.PatientID == nil:
		if strings.TrimSpace(in.Profile.DocumentNumber) == "" {
			fields["profile.document_number"] = "is required"
		}
		if strings.TrimSpace(in.Profile.Name) == "" {
			fields["profile.name"] = "is required"
		}
	}
	if len(fields) > 0 {
		return apperr.Invalid(fields)
	}
	return nil
}

// CreateAppointment books a slot. The Redis lock turns most races into an
// early conflict; the unique index on (doctor, date, slot) settles the rest.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := s.validateCreate(in); err != nil {
		return nil, err
	}

	doctor, err := s.clinic.GetDoctorByID(ctx, in.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Active {
		return nil, ErrDoctorUnavailable
	}

	if in.PatientID != nil {
		if _, err := s.clinic.GetPatientByID(ctx, *in.PatientID); err != nil {
			return nil, fmt.Errorf("load patient: %w", err)
		}
	}

	cost, duration := in.Cost, in.DurationMinutes
	if in.TreatmentID != nil {
		t, err := s.clinic.GetTreatmentByID(ctx, *in.TreatmentID)
		if err != nil {
			return nil, fmt.Errorf("load treatment: %w", err)
		}
		if cost == 0 {
			cost = t.Price
		}
		if duration == nil && t.DurationMinutes > 0 {
			d := t.DurationMinutes
			duration = &d
		}
	}

	record := NewAppointment{
		PatientID:       in.PatientID,
		DoctorID:        in.DoctorID,
		TreatmentID:     in.TreatmentID,
		Date:            in.Date,
		Slot:            in.Slot,
		DurationMinutes: duration,
		Room:            optional(in.Room),
		Reason:          strings.TrimSpace(in.Reason),
		Notes:           optional(in.Notes),
		Cost:            cost,
	}
	if in.PatientID == nil {
		p := *in.Profile
		p.DocumentNumber = strings.TrimSpace(p.DocumentNumber)
		p.Name = strings.TrimSpace(p.Name)
		record.Profile = &p
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, redisclient.SlotKey(in.DoctorID, in.Date, in.Slot), func(lockCtx context.Context) error {
		appt, err := s.repo.Create(lockCtx, record)
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":  created.DoctorID.String(),
		"patient_id": created.PatientID.String(),
		"date":       created.Date.Format(time.DateOnly),
		"slot":       created.Slot,
	})
	s.announce(ctx, created.ID, notify.EventAppointmentCreated)

	return created, nil
}

// UpdateStatus applies a status change allowed by the configured policy.
// Leaving cancelled re-claims the slot and can fail with a slot conflict.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if _, ok := ParseStatus(string(to)); !ok {
		return nil, apperr.Invalid(map[string]string{"status": "must be one of pending, confirmed, completed, cancelled, rescheduled"})
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == to {
		return appt, nil
	}
	if !s.policy.Allowed(appt.Status, to) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, to)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentStatusChanged, map[string]any{
		"from": appt.Status,
		"to":   to,
	})
	if to == StatusCancelled {
		s.announce(ctx, id, notify.EventAppointmentCancelled)
	}

	return updated, nil
}

// Cancel soft-deletes the appointment and frees its slot. Cancelling twice
// is a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if !s.policy.Allowed(appt.Status, StatusCancelled) {
		return nil, ErrInvalidStatusTransition
	}

	cancelled, err := s.repo.UpdateStatus(ctx, id, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentCancelled, map[string]any{"from": appt.Status})
	s.announce(ctx, id, notify.EventAppointmentCancelled)

	return cancelled, nil
}

func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, patch DetailsPatch) (*Appointment, error) {
	fields := map[string]string{}
	if patch.Empty() {
		fields["body"] = "must set at least one of duration_minutes, room, cost, notes, reason"
	}
	if patch.Cost != nil && *patch.Cost < 0 {
		fields["cost"] = "must not be negative"
	}
	if patch.DurationMinutes != nil && *patch.DurationMinutes <= 0 {
		fields["duration_minutes"] = "must be greater than zero"
	}
	if patch.Reason != nil && strings.TrimSpace(*patch.Reason) == "" {
		fields["reason"] = "must not be blank"
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid(fields)
	}

	updated, err := s.repo.UpdateDetails(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentUpdated, map[string]any{})
	return updated, nil
}

// Reschedule moves an open appointment to another date and slot.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, slot string) (*Appointment, error) {
	fields := map[string]string{}
	if date.IsZero() {
		fields["date"] = "is required"
	}
	if !s.grid.Contains(slot) {
		fields["slot"] = "must be one of " + strings.Join(s.grid.Slots(), ", ")
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid(fields)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == StatusCancelled || appt.Status == StatusCompleted {
		return nil, ErrInvalidStatusTransition
	}

	var moved *Appointment
	err = s.locker.WithLock(ctx, redisclient.SlotKey(appt.DoctorID, date, slot), func(lockCtx context.Context) error {
		a, err := s.repo.Reschedule(lockCtx, id, date, slot)
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return err
			}
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		moved = a
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logEvent(ctx, id, EventAppointmentRescheduled, map[string]any{
		"from_date": appt.Date.Format(time.DateOnly),
		"from_slot": appt.Slot,
		"to_date":   date.Format(time.DateOnly),
		"to_slot":   slot,
	})
	s.announce(ctx, id, notify.EventAppointmentRescheduled)

	return moved, nil
}

type PaymentInput struct {
	AppointmentID  uuid.UUID
	Method         payment.Method
	Reference      string
	CardToken      string
	IdempotencyKey string
}

// RegisterPayment charges the appointment (its invoice balance when one
// exists, its cost otherwise) and marks it paid and enabled. The gateway is
// called first; declines and outages leave everything untouched.
func (s *Service) RegisterPayment(ctx context.Context, in PaymentInput) (*Appointment, error) {
	if _, ok := payment.ParseMethod(string(in.Method)); !ok {
		return nil, apperr.Invalid(map[string]string{"method": "must be one of cash, card, transfer"})
	}

	appt, err := s.repo.GetAppointmentByID(ctx, in.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.PaymentStatus == PaymentPaid {
		return appt, nil
	}
	if appt.Status == StatusCancelled {
		return nil, ErrCancelledNotPayable
	}

	var paid *Appointment
	err = s.locker.WithLock(ctx, redisclient.AppointmentKey(appt.ID), func(lockCtx context.Context) error {
		current, err := s.repo.GetAppointmentByID(lockCtx, appt.ID)
		if err != nil {
			return fmt.Errorf("reload appointment: %w", err)
		}
		if current.PaymentStatus == PaymentPaid {
			paid = current
			return nil
		}

		inv, err := s.ledger.FindByAppointment(lockCtx, current.ID)
		if err != nil {
			return err
		}
		if inv == nil {
			paid, err = s.settle(lockCtx, current, nil, in)
			return err
		}

		// the invoice lock is shared with direct invoice payments
		return s.locker.WithLock(lockCtx, redisclient.InvoiceKey(inv.ID), func(invCtx context.Context) error {
			fresh, err := s.ledger.FindByAppointment(invCtx, current.ID)
			if err != nil {
				return err
			}
			paid, err = s.settle(invCtx, current, fresh, in)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrPaymentInProgress
		}
		return nil, err
	}

	s.announce(ctx, paid.ID, notify.EventAppointmentPaid)
	return paid, nil
}

// settle collects what is owed and persists the payment. Once money has
// been taken the write runs on a context detached from the lock deadline.
func (s *Service) settle(ctx context.Context, appt *Appointment, inv *billing.Invoice, in PaymentInput) (*Appointment, error) {
	settlement, err := s.collect(ctx, appt, inv, in)
	if err != nil {
		return nil, err
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	a, err := s.repo.MarkPaid(settleCtx, appt.ID, *settlement)
	if err != nil {
		s.log.Error("charge taken but appointment not settled",
			zap.String("appointment_id", appt.ID.String()),
			zap.String("provider_reference", settlement.Reference),
			zap.Error(err),
		)
		return nil, fmt.Errorf("mark appointment paid: %w", err)
	}

	payload := map[string]any{
		"method":    in.Method,
		"reference": settlement.Reference,
	}
	if settlement.Invoice != nil {
		payload["invoice_id"] = settlement.Invoice.InvoiceID.String()
		payload["amount"] = settlement.Invoice.Amount
	}
	s.logEvent(settleCtx, a.ID, EventAppointmentPaid, payload)
	return a, nil
}

// collect works out what is owed and takes it through the ledger's gateway.
// inv must have been read under the invoice lock.
func (s *Service) collect(ctx context.Context, appt *Appointment, inv *billing.Invoice, in PaymentInput) (*Settlement, error) {
	settlement := &Settlement{Method: in.Method, PaidAt: s.now().UTC()}

	amount := appt.Cost
	if inv != nil {
		amount = inv.Balance
		if amount == 0 {
			// settled directly against the invoice already
			settlement.Reference = firstNonEmpty(in.Reference, "invoice-"+inv.ID.String())
			return settlement, nil
		}
		settlement.Invoice = &InvoiceCharge{
			InvoiceID:      inv.ID,
			Amount:         amount,
			IdempotencyKey: in.IdempotencyKey,
		}
	}

	if amount == 0 {
		if in.Method == payment.MethodCard {
			return nil, ErrNothingToCharge
		}
		settlement.Reference = firstNonEmpty(in.Reference, fmt.Sprintf("manual-%d", s.now().UnixMilli()))
		return settlement, nil
	}

	ref, err := s.ledger.Collect(ctx, in.Method, payment.ChargeRequest{
		Amount:             amount,
		Currency:           s.currency,
		PaymentMethodToken: in.CardToken,
		Reference:          in.Reference,
		Description:        fmt.Sprintf("appointment %s", appt.ID),
		IdempotencyKey:     in.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	settlement.Reference = ref
	return settlement, nil
}

// HardDelete physically removes the appointment. Administrative use only.
func (s *Service) HardDelete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{})
	s.log.Warn("appointment hard deleted", zap.String("appointment_id", id.String()))
	return nil
}

// MarkOverdue flags unpaid appointments dated before today. It is intended
// to be called by the worker periodically.
func (s *Service) MarkOverdue(ctx context.Context, today time.Time) (int, error) {
	overdue, err := s.repo.MarkOverdue(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("mark overdue appointments: %w", err)
	}

	for _, appt := range overdue {
		s.logEvent(ctx, appt.ID, EventAppointmentOverdue, map[string]any{
			"date": appt.Date.Format(time.DateOnly),
		})
	}

	return len(overdue), nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) announce(ctx context.Context, id uuid.UUID, typ notify.EventType) {
	d, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		s.log.Warn("skip notification", zap.String("appointment_id", id.String()), zap.Error(err))
		return
	}

	ev := notify.Event{
		Type:          typ,
		AppointmentID: d.ID.String(),
		Date:          d.Date.Format(time.DateOnly),
		Slot:          d.Slot,
		Amount:        d.Cost,
		Currency:      s.currency,
	}
	if d.Patient != nil {
		ev.PatientName = d.Patient.Name
		ev.Email = deref(d.Patient.Email)
		ev.Phone = deref(d.Patient.Phone)
	}
	if d.Doctor != nil {
		ev.DoctorName = d.Doctor.Name
	}
	notify.Dispatch(ctx, s.notifier, s.log, ev)
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointmentsByPatient returns a patient's appointments, newest first
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	limit, offset = clampPage(limit, offset)

	appointments, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

func (s *Service) ListAppointmentsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]AppointmentDetail, error) {
	appointments, err := s.repo.ListByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

func (s *Service) ListAppointmentsByStatus(ctx context.Context, status AppointmentStatus, limit, offset int) ([]AppointmentDetail, error) {
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, apperr.Invalid(map[string]string{"status": "is not a known appointment status"})
	}
	limit, offset = clampPage(limit, offset)

	appointments, err := s.repo.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by status: %w", err)
	}
	return appointments, nil
}

func (s *Service) ListAppointments(ctx context.Context, limit, offset int) ([]AppointmentDetail, error) {
	limit, offset = clampPage(limit, offset)

	appointments, err := s.repo.ListAll(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
