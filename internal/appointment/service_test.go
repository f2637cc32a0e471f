package appointment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/billing"
	"github.com/hackgods/clinic-booking/internal/calendar"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/payment"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

type fixture struct {
	svc       *Service
	repo      *memRepo
	ledger    *stubLedger
	doctor    uuid.UUID
	inactive  uuid.UUID
	patient   uuid.UUID
	treatment uuid.UUID
	date      time.Time
}

func newFixture(t *testing.T, policy TransitionPolicy) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMemRepo(),
		ledger:    &stubLedger{invoices: map[uuid.UUID]*billing.Invoice{}, res: payment.Result{Success: true}},
		doctor:    uuid.New(),
		inactive:  uuid.New(),
		patient:   uuid.New(),
		treatment: uuid.New(),
		date:      time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	stub := clinicStub{
		patients: map[uuid.UUID]*clinic.Patient{f.patient: {ID: f.patient, Name: "Ana Ruiz", DocumentNumber: "1020"}},
		doctors: map[uuid.UUID]*clinic.Doctor{
			f.doctor:   {ID: f.doctor, Name: "Dr. Gómez", Active: true},
			f.inactive: {ID: f.inactive, Name: "Dr. Pérez", Active: false},
		},
		treatments: map[uuid.UUID]*clinic.Treatment{f.treatment: {ID: f.treatment, Name: "Cleaning", Price: 80000, DurationMinutes: 45}},
	}
	f.svc = NewService(Deps{
		Repo:     f.repo,
		Clinic:   stub,
		Ledger:   f.ledger,
		Locker:   passLocker{},
		Grid:     calendar.MustParseGrid("08:00", "09:00", "10:00", "11:00"),
		Policy:   policy,
		Currency: "cop",
		Log:      zap.NewNop(),
	})
	return f
}

func (f *fixture) book(t *testing.T, slot string, cost int64) *Appointment {
	t.Helper()
	a, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		DoctorID:  f.doctor,
		PatientID: &f.patient,
		Date:      f.date,
		Slot:      slot,
		Reason:    "checkup",
		Cost:      cost,
	})
	require.NoError(t, err)
	return a
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t, nil)

	a := f.book(t, "09:00", 50000)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, PaymentUnpaid, a.PaymentStatus)
	assert.False(t, a.Enabled)
	assert.Equal(t, int64(50000), a.Cost)
	assert.Contains(t, f.repo.eventTypes(), EventAppointmentCreated)
}

func TestCreateAppointmentValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := map[string]CreateInput{
		"off grid":    {DoctorID: f.doctor, PatientID: &f.patient, Date: f.date, Slot: "09:30", Reason: "x"},
		"no reason":   {DoctorID: f.doctor, PatientID: &f.patient, Date: f.date, Slot: "09:00"},
		"no date":     {DoctorID: f.doctor, PatientID: &f.patient, Slot: "09:00", Reason: "x"},
		"neg cost":    {DoctorID: f.doctor, PatientID: &f.patient, Date: f.date, Slot: "09:00", Reason: "x", Cost: -1},
		"no patient":  {DoctorID: f.doctor, Date: f.date, Slot: "09:00", Reason: "x"},
		"bad profile": {DoctorID: f.doctor, Profile: &clinic.Profile{Name: "Ana"}, Date: f.date, Slot: "09:00", Reason: "x"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateAppointment(ctx, in)
			assert.ErrorIs(t, err, apperr.InvalidArgument)
		})
	}

	_, err := f.svc.CreateAppointment(ctx, CreateInput{DoctorID: uuid.New(), PatientID: &f.patient, Date: f.date, Slot: "09:00", Reason: "x"})
	assert.ErrorIs(t, err, clinic.ErrDoctorNotFound)

	_, err = f.svc.CreateAppointment(ctx, CreateInput{DoctorID: f.inactive, PatientID: &f.patient, Date: f.date, Slot: "09:00", Reason: "x"})
	assert.ErrorIs(t, err, ErrDoctorUnavailable)

	missing := uuid.New()
	_, err = f.svc.CreateAppointment(ctx, CreateInput{DoctorID: f.doctor, PatientID: &missing, Date: f.date, Slot: "09:00", Reason: "x"})
	assert.ErrorIs(t, err, clinic.ErrPatientNotFound)
}

func TestCreateAppointmentProvisionsPatient(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	profile := &clinic.Profile{DocumentNumber: " 99887766 ", Name: "Luis Mora"}

	first, err := f.svc.CreateAppointment(ctx, CreateInput{DoctorID: f.doctor, Profile: profile, Date: f.date, Slot: "08:00", Reason: "pain"})
	require.NoError(t, err)
	second, err := f.svc.CreateAppointment(ctx, CreateInput{DoctorID: f.doctor, Profile: profile, Date: f.date, Slot: "10:00", Reason: "follow-up"})
	require.NoError(t, err)

	assert.Equal(t, first.PatientID, second.PatientID)
}

func TestCreateAppointmentTreatmentDefaults(t *testing.T) {
	f := newFixture(t, nil)

	a, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		DoctorID: f.doctor, PatientID: &f.patient, TreatmentID: &f.treatment,
		Date: f.date, Slot: "08:00", Reason: "cleaning",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(80000), a.Cost)
	require.NotNil(t, a.DurationMinutes)
	assert.Equal(t, 45, *a.DurationMinutes)
}

func TestConcurrentBookingSameSlot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const callers = 20
	var ok, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profile := &clinic.Profile{DocumentNumber: fmt.Sprintf("doc-%d", i), Name: "Patient"}
			_, err := f.svc.CreateAppointment(ctx, CreateInput{DoctorID: f.doctor, Profile: profile, Date: f.date, Slot: "10:00", Reason: "x"})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case apperr.KindOf(err) == apperr.KindSlotConflict:
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, callers-1, conflicts)

	free, err := f.svc.FreeSlots(ctx, f.doctor, f.date)
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00", "09:00", "11:00"}, free)
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestCreateAppointmentLockHeld(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.locker = busyLocker{}

	_, err := f.svc.CreateAppointment(context.Background(), CreateInput{DoctorID: f.doctor, PatientID: &f.patient, Date: f.date, Slot: "08:00", Reason: "x"})
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
	assert.Equal(t, apperr.KindSlotConflict, apperr.KindOf(err))
}

func TestFreeSlots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a := f.book(t, "09:00", 0)

	free, err := f.svc.FreeSlots(ctx, f.doctor, f.date)
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00", "10:00", "11:00"}, free)

	_, err = f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)

	free, err = f.svc.FreeSlots(ctx, f.doctor, f.date)
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00", "09:00", "10:00", "11:00"}, free)

	_, err = f.svc.FreeSlots(ctx, uuid.New(), f.date)
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 0)

	first, err := f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, first.Status)

	second, err := f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, second.Status)

	// the slot is bookable again
	f.book(t, "08:00", 0)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 0)

	updated, err := f.svc.UpdateStatus(ctx, a.ID, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)

	_, err = f.svc.UpdateStatus(ctx, a.ID, "archived")
	assert.ErrorIs(t, err, apperr.InvalidArgument)

	_, err = f.svc.UpdateStatus(ctx, uuid.New(), StatusConfirmed)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestUpdateStatusReopenCancelledConflicts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 0)

	_, err := f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	f.book(t, "08:00", 0)

	_, err = f.svc.UpdateStatus(ctx, a.ID, StatusPending)
	assert.ErrorIs(t, err, apperr.SlotConflict)
}

func TestUpdateStatusStrictPolicy(t *testing.T) {
	f := newFixture(t, StrictPolicy{})
	ctx := context.Background()
	a := f.book(t, "08:00", 0)

	_, err := f.svc.UpdateStatus(ctx, a.ID, StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, a.ID, StatusPending)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 1000)

	_, err := f.svc.UpdateDetails(ctx, a.ID, DetailsPatch{})
	assert.ErrorIs(t, err, apperr.InvalidArgument)

	cost := int64(2500)
	room := "B2"
	updated, err := f.svc.UpdateDetails(ctx, a.ID, DetailsPatch{Cost: &cost, Room: &room})
	require.NoError(t, err)
	assert.Equal(t, cost, updated.Cost)
	require.NotNil(t, updated.Room)
	assert.Equal(t, room, *updated.Room)
	assert.Equal(t, "checkup", updated.Reason)

	negative := int64(-1)
	_, err = f.svc.UpdateDetails(ctx, a.ID, DetailsPatch{Cost: &negative})
	assert.ErrorIs(t, err, apperr.InvalidArgument)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 0)
	f.book(t, "10:00", 0)

	_, err := f.svc.Reschedule(ctx, a.ID, f.date, "10:00")
	assert.ErrorIs(t, err, apperr.SlotConflict)

	next := f.date.AddDate(0, 0, 1)
	moved, err := f.svc.Reschedule(ctx, a.ID, next, "10:00")
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, moved.Status)
	assert.True(t, moved.Date.Equal(next))

	free, err := f.svc.FreeSlots(ctx, f.doctor, f.date)
	require.NoError(t, err)
	assert.Contains(t, free, "08:00")

	_, err = f.svc.Reschedule(ctx, a.ID, next, "12:30")
	assert.ErrorIs(t, err, apperr.InvalidArgument)
}

func TestRegisterPaymentCash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 50000)

	paid, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: a.ID, Method: payment.MethodCash, Reference: "R-1"})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)
	assert.True(t, paid.Enabled)
	require.NotNil(t, paid.PaymentReference)
	assert.Equal(t, "R-1", *paid.PaymentReference)
	require.NotNil(t, paid.PaidAt)

	again, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: a.ID, Method: payment.MethodCash})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, again.PaymentStatus)
	assert.Equal(t, 1, f.ledger.chargeCount())
}

func TestRegisterPaymentCardDeclined(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.res = payment.Result{Success: false, Message: "card declined"}
	ctx := context.Background()
	a := f.book(t, "08:00", 50000)

	_, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: a.ID, Method: payment.MethodCard, CardToken: "pm_card"})
	require.ErrorIs(t, err, apperr.GatewayDeclined)

	current, err := f.repo.GetAppointmentByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentUnpaid, current.PaymentStatus)
	assert.False(t, current.Enabled)
	assert.Empty(t, f.repo.paid)
}

func TestRegisterPaymentGatewayUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.err = apperr.Wrap(apperr.KindGatewayUnavailable, payment.ErrUnavailable, "payment gateway unavailable")
	a := f.book(t, "08:00", 50000)

	_, err := f.svc.RegisterPayment(context.Background(), PaymentInput{AppointmentID: a.ID, Method: payment.MethodCard, CardToken: "pm_card"})
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	assert.Empty(t, f.repo.paid)
}

func TestRegisterPaymentAgainstInvoice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 50000)
	inv := &billing.Invoice{ID: uuid.New(), Total: 50000, Balance: 30000, Status: billing.InvoicePartiallyPaid}
	f.ledger.invoices[a.ID] = inv

	_, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: a.ID, Method: payment.MethodCard, CardToken: "pm_card", IdempotencyKey: "k-9"})
	require.NoError(t, err)

	require.Len(t, f.ledger.charges, 1)
	assert.Equal(t, int64(30000), f.ledger.charges[0].Amount)
	assert.Equal(t, "k-9", f.ledger.charges[0].IdempotencyKey)

	require.Len(t, f.repo.paid, 1)
	require.NotNil(t, f.repo.paid[0].Invoice)
	assert.Equal(t, inv.ID, f.repo.paid[0].Invoice.InvoiceID)
	assert.Equal(t, int64(30000), f.repo.paid[0].Invoice.Amount)
}

func TestRegisterPaymentAgainstInvoiceTakesInvoiceLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 50000)
	inv := &billing.Invoice{ID: uuid.New(), Total: 50000, Balance: 50000, Status: billing.InvoicePending}
	f.ledger.invoices[a.ID] = inv

	locker := newKeyLocker()
	f.svc.locker = locker

	_, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: a.ID, Method: payment.MethodCard, CardToken: "pm_card"})
	require.NoError(t, err)
	assert.Equal(t, []string{redisclient.AppointmentKey(a.ID), redisclient.InvoiceKey(inv.ID)}, locker.keys())
}

func TestRegisterPaymentRereadsBalanceUnderInvoiceLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 50000)
	inv := &billing.Invoice{ID: uuid.New(), Total: 50000, Balance: 50000, Status: billing.InvoicePending}
	f.ledger.invoices[a.ID] = inv

	locker := newKeyLocker()
	locker.onAcquire = func(key string) {
		if key == redisclient.InvoiceKey(inv.ID) {
			// a direct invoice payment landed between the first read and the lock
			f.ledger.setBalance(a.ID, 10000)
		}
	}
	f.svc.locker = locker

	_, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: a.ID, Method: payment.MethodCard, CardToken: "pm_card"})
	require.NoError(t, err)

	require.Len(t, f.ledger.charges, 1)
	assert.Equal(t, int64(10000), f.ledger.charges[0].Amount)
	require.Len(t, f.repo.paid, 1)
	assert.Equal(t, int64(10000), f.repo.paid[0].Invoice.Amount)
}

func TestRegisterPaymentWhileInvoicePaymentInFlight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 50000)
	inv := &billing.Invoice{ID: uuid.New(), Total: 50000, Balance: 50000, Status: billing.InvoicePending}
	f.ledger.invoices[a.ID] = inv

	locker := newKeyLocker()
	f.svc.locker = locker

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- locker.WithLock(ctx, redisclient.InvoiceKey(inv.ID), func(context.Context) error {
			close(entered)
			<-release
			f.ledger.setBalance(a.ID, 0)
			return nil
		})
	}()
	<-entered

	in := PaymentInput{AppointmentID: a.ID, Method: payment.MethodCard, CardToken: "pm_card", IdempotencyKey: "k-1"}
	_, err := f.svc.RegisterPayment(ctx, in)
	require.ErrorIs(t, err, ErrPaymentInProgress)
	assert.True(t, apperr.Retryable(err))
	assert.Zero(t, f.ledger.chargeCount())
	assert.Empty(t, f.repo.paid)

	close(release)
	require.NoError(t, <-done)

	// the invoice is settled now, so the retry marks the appointment paid without charging
	paid, err := f.svc.RegisterPayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)
	assert.True(t, paid.Enabled)
	assert.Zero(t, f.ledger.chargeCount())
}

func TestRegisterPaymentSettlesAfterSlowCharge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 50000)

	locker := newKeyLocker()
	locker.ttl = 20 * time.Millisecond
	f.svc.locker = locker
	f.ledger.delay = 40 * time.Millisecond

	paid, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: a.ID, Method: payment.MethodCard, CardToken: "pm_card"})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, 1, f.ledger.chargeCount())
	assert.Len(t, f.repo.paid, 1)
}

func TestRegisterPaymentRejects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	free := f.book(t, "08:00", 0)
	_, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: free.ID, Method: payment.MethodCard, CardToken: "pm"})
	assert.ErrorIs(t, err, ErrNothingToCharge)

	paidFree, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: free.ID, Method: payment.MethodCash})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paidFree.PaymentStatus)

	a := f.book(t, "09:00", 100)
	_, err = f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: a.ID, Method: "cheque"})
	assert.ErrorIs(t, err, apperr.InvalidArgument)

	_, err = f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: a.ID, Method: payment.MethodCash})
	assert.ErrorIs(t, err, ErrCancelledNotPayable)
}

func TestMarkOverdue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	unpaid := f.book(t, "08:00", 100)
	paid := f.book(t, "09:00", 100)
	_, err := f.svc.RegisterPayment(ctx, PaymentInput{AppointmentID: paid.ID, Method: payment.MethodCash})
	require.NoError(t, err)

	n, err := f.svc.MarkOverdue(ctx, f.date)
	require.NoError(t, err)
	assert.Zero(t, n, "appointments dated today are not overdue yet")

	n, err = f.svc.MarkOverdue(ctx, f.date.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repo.GetAppointmentByID(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentOverdue, got.PaymentStatus)
	assert.Contains(t, f.repo.eventTypes(), EventAppointmentOverdue)
}

func TestHardDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.book(t, "08:00", 0)

	require.NoError(t, f.svc.HardDelete(ctx, a.ID))
	_, err := f.svc.GetAppointment(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	assert.ErrorIs(t, f.svc.HardDelete(ctx, a.ID), apperr.NotFound)
}

func TestListAppointments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.book(t, "08:00", 0)
	b := f.book(t, "09:00", 0)
	_, err := f.svc.Cancel(ctx, b.ID)
	require.NoError(t, err)

	all, err := f.svc.ListAppointments(ctx, 0, -1)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.ListAppointmentsByPatient(ctx, f.patient, 10, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	cancelled, err := f.svc.ListAppointmentsByStatus(ctx, StatusCancelled, 10, 0)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, b.ID, cancelled[0].ID)

	_, err = f.svc.ListAppointmentsByStatus(ctx, "nope", 10, 0)
	assert.ErrorIs(t, err, apperr.InvalidArgument)

	day, err := f.svc.ListAppointmentsByDoctorDate(ctx, f.doctor, f.date)
	require.NoError(t, err)
	assert.Len(t, day, 2)
}
