package notify

import (
	"fmt"
	"strings"
	"unicode"
)

// Message is a rendered notification, ready for either channel.
type Message struct {
	Subject string
	Body    string
	SMS     string
}

// Render builds the patient-facing text for ev. Unknown event types render
// to a zero Message and are skipped by the worker.
func Render(ev Event) Message {
	name := ev.PatientName
	if name == "" {
		name = "patient"
	}
	when := strings.TrimSpace(ev.Date + " " + ev.Slot)
	doctor := ev.DoctorName
	if doctor == "" {
		doctor = "your dentist"
	}

	switch ev.Type {
	case EventAppointmentCreated:
		return Message{
			Subject: "Appointment booked",
			Body: fmt.Sprintf("Hello %s,\n\nYour appointment with %s is booked for %s.\nIt is confirmed once payment is registered.\n",
				name, doctor, when),
			SMS: fmt.Sprintf("Appointment booked with %s on %s.", doctor, when),
		}
	case EventAppointmentCancelled:
		return Message{
			Subject: "Appointment cancelled",
			Body:    fmt.Sprintf("Hello %s,\n\nYour appointment with %s on %s was cancelled.\n", name, doctor, when),
			SMS:     fmt.Sprintf("Your appointment on %s was cancelled.", when),
		}
	case EventAppointmentRescheduled:
		return Message{
			Subject: "Appointment rescheduled",
			Body:    fmt.Sprintf("Hello %s,\n\nYour appointment with %s has moved to %s.\n", name, doctor, when),
			SMS:     fmt.Sprintf("Your appointment was moved to %s.", when),
		}
	case EventAppointmentPaid:
		return Message{
			Subject: "Payment received, appointment confirmed",
			Body: fmt.Sprintf("Hello %s,\n\nWe received your payment. Your appointment with %s on %s is confirmed.\n",
				name, doctor, when),
			SMS: fmt.Sprintf("Payment received. See you on %s.", when),
		}
	case EventPaymentReceived:
		return Message{
			Subject: "Payment received",
			Body: fmt.Sprintf("Hello %s,\n\nWe received %s. Remaining balance: %s.\n",
				name, FormatMoney(ev.Amount, ev.Currency), FormatMoney(ev.Balance, ev.Currency)),
			SMS: fmt.Sprintf("Payment of %s received. Balance %s.",
				FormatMoney(ev.Amount, ev.Currency), FormatMoney(ev.Balance, ev.Currency)),
		}
	}
	return Message{}
}

// FormatMoney prints minor units with two decimals, e.g. 150000 "cop" as
// "COP 1500.00".
func FormatMoney(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s%d.%02d", strings.ToUpper(currency), sign, amount/100, amount%100)
}

// FormatPhone normalizes raw to E.164. Numbers without an international
// prefix get countryCode prepended. Returns "" when raw has no digits.
func FormatPhone(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	international := strings.HasPrefix(raw, "+")

	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return ""
	}

	if strings.HasPrefix(digits, "00") {
		return "+" + digits[2:]
	}
	if international {
		return "+" + digits
	}

	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return ""
	}
	if countryCode != "" && strings.HasPrefix(digits, countryCode) && len(digits) > 10 {
		return "+" + digits
	}
	return "+" + countryCode + digits
}
