// Package notify carries patient notifications out of the request path.
// Delivery is best-effort: a failed notification never fails the booking or
// payment that triggered it.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	EventAppointmentCreated     EventType = "appointment_created"
	EventAppointmentCancelled   EventType = "appointment_cancelled"
	EventAppointmentRescheduled EventType = "appointment_rescheduled"
	EventAppointmentPaid        EventType = "appointment_paid"
	EventPaymentReceived        EventType = "payment_received"
)

type Event struct {
	Type          EventType `json:"type"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	InvoiceID     string    `json:"invoice_id,omitempty"`
	PatientName   string    `json:"patient_name,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	DoctorName    string    `json:"doctor_name,omitempty"`
	Date          string    `json:"date,omitempty"`
	Slot          string    `json:"slot,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Balance       int64     `json:"balance,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

const dispatchTimeout = 2 * time.Second

// Dispatch hands ev to n and logs, rather than returns, any failure.
func Dispatch(ctx context.Context, n Notifier, log *zap.Logger, ev Event) {
	if n == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	if err := n.Notify(ctx, ev); err != nil {
		log.Warn("notification dropped",
			zap.String("event", string(ev.Type)),
			zap.String("appointment_id", ev.AppointmentID),
			zap.String("invoice_id", ev.InvoiceID),
			zap.Error(err),
		)
	}
}
