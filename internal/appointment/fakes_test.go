package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/billing"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/payment"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

// memRepo mirrors the partial unique index: one non-cancelled appointment
// per (doctor, date, slot).
type memRepo struct {
	mu       sync.Mutex
	appts    map[uuid.UUID]*Appointment
	patients map[string]uuid.UUID
	events   []EventLog
	paid     []Settlement
}

func newMemRepo() *memRepo {
	return &memRepo{appts: map[uuid.UUID]*Appointment{}, patients: map[string]uuid.UUID{}}
}

func (m *memRepo) held(doctorID uuid.UUID, date time.Time, slot string, except uuid.UUID) bool {
	for _, a := range m.appts {
		if a.ID != except && a.DoctorID == doctorID && a.Date.Equal(date) && a.Slot == slot && a.Status != StatusCancelled {
			return true
		}
	}
	return false
}

func (m *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := m.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{Appointment: *a}, nil
}

func (m *memRepo) OccupiedSlots(_ context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Status != StatusCancelled {
			out = append(out, a.Slot)
		}
	}
	return out, nil
}

func (m *memRepo) filter(keep func(*Appointment) bool, limit, offset int) []AppointmentDetail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range m.appts {
		if keep(a) {
			out = append(out, AppointmentDetail{Appointment: *a})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	return m.filter(func(a *Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (m *memRepo) ListByDoctorDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]AppointmentDetail, error) {
	return m.filter(func(a *Appointment) bool { return a.DoctorID == doctorID && a.Date.Equal(date) }, 0, 0), nil
}

func (m *memRepo) ListByStatus(_ context.Context, status AppointmentStatus, limit, offset int) ([]AppointmentDetail, error) {
	return m.filter(func(a *Appointment) bool { return a.Status == status }, limit, offset), nil
}

func (m *memRepo) ListAll(_ context.Context, limit, offset int) ([]AppointmentDetail, error) {
	return m.filter(func(*Appointment) bool { return true }, limit, offset), nil
}

func (m *memRepo) Create(_ context.Context, in NewAppointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held(in.DoctorID, in.Date, in.Slot, uuid.Nil) {
		return nil, ErrSlotTaken
	}

	var patientID uuid.UUID
	if in.PatientID != nil {
		patientID = *in.PatientID
	} else {
		id, ok := m.patients[in.Profile.DocumentNumber]
		if !ok {
			id = uuid.New()
			m.patients[in.Profile.DocumentNumber] = id
		}
		patientID = id
	}

	now := time.Now()
	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		DoctorID:        in.DoctorID,
		TreatmentID:     in.TreatmentID,
		Date:            in.Date,
		Slot:            in.Slot,
		DurationMinutes: in.DurationMinutes,
		Room:            in.Room,
		Reason:          in.Reason,
		Notes:           in.Notes,
		Cost:            in.Cost,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.appts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status == StatusCancelled && to != StatusCancelled && m.held(a.DoctorID, a.Date, a.Slot, a.ID) {
		return nil, ErrSlotTaken
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) UpdateDetails(_ context.Context, id uuid.UUID, p DetailsPatch) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if p.DurationMinutes != nil {
		a.DurationMinutes = p.DurationMinutes
	}
	if p.Room != nil {
		a.Room = p.Room
	}
	if p.Cost != nil {
		a.Cost = *p.Cost
	}
	if p.Notes != nil {
		a.Notes = p.Notes
	}
	if p.Reason != nil {
		a.Reason = *p.Reason
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) Reschedule(_ context.Context, id uuid.UUID, date time.Time, slot string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status == StatusCancelled || a.Status == StatusCompleted {
		return nil, ErrAppointmentNotFound
	}
	if m.held(a.DoctorID, date, slot, a.ID) {
		return nil, ErrSlotTaken
	}
	a.Date, a.Slot, a.Status = date, slot, StatusRescheduled
	cp := *a
	return &cp, nil
}

func (m *memRepo) MarkPaid(ctx context.Context, id uuid.UUID, s Settlement) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	method, ref, at := s.Method, s.Reference, s.PaidAt
	a.PaymentStatus = PaymentPaid
	a.Enabled = true
	a.PaymentMethod = &method
	a.PaymentReference = &ref
	a.PaidAt = &at
	m.paid = append(m.paid, s)
	cp := *a
	return &cp, nil
}

func (m *memRepo) MarkOverdue(_ context.Context, before time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.PaymentStatus == PaymentUnpaid && a.Status != StatusCancelled && a.Date.Before(before) {
			a.PaymentStatus = PaymentOverdue
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appts, id)
	return nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}

type clinicStub struct {
	patients   map[uuid.UUID]*clinic.Patient
	doctors    map[uuid.UUID]*clinic.Doctor
	treatments map[uuid.UUID]*clinic.Treatment
}

func (c clinicStub) GetPatientByID(_ context.Context, id uuid.UUID) (*clinic.Patient, error) {
	if p, ok := c.patients[id]; ok {
		return p, nil
	}
	return nil, clinic.ErrPatientNotFound
}

func (c clinicStub) GetDoctorByID(_ context.Context, id uuid.UUID) (*clinic.Doctor, error) {
	if d, ok := c.doctors[id]; ok {
		return d, nil
	}
	return nil, clinic.ErrDoctorNotFound
}

func (c clinicStub) GetTreatmentByID(_ context.Context, id uuid.UUID) (*clinic.Treatment, error) {
	if t, ok := c.treatments[id]; ok {
		return t, nil
	}
	return nil, clinic.ErrTreatmentNotFound
}

type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// keyLocker is an in-process try-lock per key. Like the Redis locker it
// bounds the section by ttl when one is set.
type keyLocker struct {
	mu        sync.Mutex
	held      map[string]bool
	acquired  []string
	ttl       time.Duration
	onAcquire func(key string)
}

func newKeyLocker() *keyLocker {
	return &keyLocker{held: map[string]bool{}}
}

func (l *keyLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	hook, ttl := l.onAcquire, l.ttl
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	if hook != nil {
		hook(key)
	}
	if ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ttl)
		defer cancel()
	}
	return fn(ctx)
}

func (l *keyLocker) keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.acquired...)
}

// stubLedger settles card charges with res/err and everything else at once.
// delay holds every charge without watching ctx, like a gateway that answers
// late.
type stubLedger struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*billing.Invoice
	charges  []payment.ChargeRequest
	res      payment.Result
	err      error
	delay    time.Duration
}

func (l *stubLedger) setBalance(appointmentID uuid.UUID, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv := l.invoices[appointmentID]
	inv.Balance = balance
	inv.Status = billing.DeriveStatus(inv.Total, balance)
}

func (l *stubLedger) FindByAppointment(_ context.Context, appointmentID uuid.UUID) (*billing.Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.invoices[appointmentID]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (l *stubLedger) Collect(_ context.Context, method payment.Method, req payment.ChargeRequest) (string, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if method == payment.MethodCard && req.PaymentMethodToken == "" {
		return "", apperr.Invalid(map[string]string{"card_token": "is required for card payments"})
	}
	l.charges = append(l.charges, req)
	if method != payment.MethodCard {
		if req.Reference != "" {
			return req.Reference, nil
		}
		return "manual-1", nil
	}
	if l.err != nil {
		return "", l.err
	}
	if !l.res.Success {
		return "", apperr.New(apperr.KindGatewayDeclined, l.res.Message)
	}
	return "pi_" + uuid.NewString(), nil
}

func (l *stubLedger) chargeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.charges)
}
