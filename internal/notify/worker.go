package notify

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Worker turns queued events into emails and SMS. Either channel may be nil.
type Worker struct {
	mail        Mailer
	sms         Texter
	countryCode string
	log         *zap.Logger
}

func NewWorker(mail Mailer, sms Texter, countryCode string, log *zap.Logger) *Worker {
	return &Worker{mail: mail, sms: sms, countryCode: countryCode, log: log}
}

// Handle delivers ev on every channel the patient has a contact for.
func (w *Worker) Handle(ctx context.Context, ev Event) error {
	msg := Render(ev)
	if msg.Subject == "" {
		w.log.Warn("no template for event", zap.String("event", string(ev.Type)))
		return nil
	}

	var errs []error

	if w.mail != nil && ev.Email != "" {
		if err := w.mail.SendEmail(ctx, ev.Email, msg.Subject, msg.Body); err != nil {
			errs = append(errs, err)
		}
	}

	if w.sms != nil {
		if phone := FormatPhone(ev.Phone, w.countryCode); phone != "" {
			if err := w.sms.SendSMS(ctx, phone, msg.SMS); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Run consumes deliveries until ctx is done or the channel closes. Failed
// deliveries are dropped, not requeued.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			w.process(ctx, d)
		}
	}
}

func (w *Worker) process(ctx context.Context, d amqp.Delivery) {
	ev, err := decode(d.Body)
	if err != nil {
		w.log.Error("discarding malformed notification", zap.Error(err))
		if err := d.Reject(false); err != nil {
			w.log.Warn("reject delivery", zap.Error(err))
		}
		return
	}

	if err := w.Handle(ctx, ev); err != nil {
		w.log.Error("notification delivery failed",
			zap.String("event", string(ev.Type)),
			zap.String("appointment_id", ev.AppointmentID),
			zap.String("invoice_id", ev.InvoiceID),
			zap.Error(err),
		)
		if err := d.Nack(false, false); err != nil {
			w.log.Warn("nack delivery", zap.Error(err))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		w.log.Warn("ack delivery", zap.Error(err))
	}
}

// Consume opens a consumer on queue with a bounded prefetch.
func Consume(ch *amqp.Channel, queue string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := DeclareQueue(ch, queue); err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, "notify-worker", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}
