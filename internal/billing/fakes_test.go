package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/payment"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

// memRepo mirrors ApplyPaymentTx, including settling the linked appointment
// once an invoice reaches zero.
type memRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*Invoice
	payments []Payment
	settled  map[uuid.UUID]string // appointment id -> provider reference
}

func newMemRepo() *memRepo {
	return &memRepo{invoices: map[uuid.UUID]*Invoice{}, settled: map[uuid.UUID]string{}}
}

func (m *memRepo) settledRef(appointmentID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.settled[appointmentID]
	return ref, ok
}

func (m *memRepo) CreateInvoice(_ context.Context, inv Invoice) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.ID = uuid.New()
	inv.Balance = inv.Total
	inv.Status = DeriveStatus(inv.Total, inv.Total)
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	m.invoices[inv.ID] = &inv
	cp := inv
	return &cp, nil
}

func (m *memRepo) GetInvoice(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memRepo) GetInvoiceDetail(ctx context.Context, id uuid.UUID) (*InvoiceDetail, error) {
	inv, err := m.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceDetail{Invoice: *inv, Payments: m.paymentsFor(id)}, nil
}

func (m *memRepo) FindByAppointment(_ context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.AppointmentID != nil && *inv.AppointmentID == appointmentID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]InvoiceDetail, error) {
	m.mu.Lock()
	var out []InvoiceDetail
	for _, inv := range m.invoices {
		if inv.PatientID == patientID {
			out = append(out, InvoiceDetail{Invoice: *inv})
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) ListAll(_ context.Context, limit, offset int) ([]InvoiceDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InvoiceDetail
	for _, inv := range m.invoices {
		out = append(out, InvoiceDetail{Invoice: *inv})
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) GetPaymentByIdempotencyKey(_ context.Context, key string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *memRepo) ApplyPayment(ctx context.Context, rec PaymentRecord) (*Invoice, *Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[rec.InvoiceID]
	if !ok {
		return nil, nil, ErrInvoiceNotFound
	}
	if rec.Amount > inv.Balance {
		return nil, nil, ErrExceedsBalance
	}
	if rec.IdempotencyKey != "" {
		for _, p := range m.payments {
			if p.IdempotencyKey != nil && *p.IdempotencyKey == rec.IdempotencyKey {
				return nil, nil, ErrDuplicatePayment
			}
		}
	}
	inv.Balance -= rec.Amount
	inv.Status = DeriveStatus(inv.Total, inv.Balance)
	if inv.Balance == 0 && inv.AppointmentID != nil {
		if _, done := m.settled[*inv.AppointmentID]; !done {
			m.settled[*inv.AppointmentID] = rec.ProviderReference
		}
	}
	p := Payment{
		ID:                uuid.New(),
		InvoiceID:         inv.ID,
		PatientID:         inv.PatientID,
		Amount:            rec.Amount,
		Method:            rec.Method,
		Status:            PaymentApplied,
		ProviderReference: rec.ProviderReference,
		CreatedAt:         time.Now(),
	}
	if rec.IdempotencyKey != "" {
		key := rec.IdempotencyKey
		p.IdempotencyKey = &key
	}
	m.payments = append(m.payments, p)
	invCopy, payCopy := *inv, p
	return &invCopy, &payCopy, nil
}

func (m *memRepo) paymentsFor(id uuid.UUID) []Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if p.InvoiceID == id {
			out = append(out, p)
		}
	}
	return out
}

type patientsStub map[uuid.UUID]*clinic.Patient

func (p patientsStub) GetPatientByID(_ context.Context, id uuid.UUID) (*clinic.Patient, error) {
	if pt, ok := p[id]; ok {
		return pt, nil
	}
	return nil, clinic.ErrPatientNotFound
}

type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// ttlLocker bounds the section by ttl, as the Redis locker does.
type ttlLocker struct {
	ttl time.Duration
}

func (l ttlLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(ctx)
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

// stubCharger answers with res/err; delay holds every charge without
// watching ctx, like a gateway that answers late.
type stubCharger struct {
	mu    sync.Mutex
	calls int
	res   payment.Result
	err   error
	delay time.Duration
}

func (c *stubCharger) Charge(_ context.Context, _ payment.Method, req payment.ChargeRequest) (payment.Result, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return payment.Result{}, c.err
	}
	res := c.res
	if res.Success && res.TransactionID == "" {
		res.TransactionID = "tx-" + uuid.NewString()
	}
	return res, nil
}

func (c *stubCharger) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
