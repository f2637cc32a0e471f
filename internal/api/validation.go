package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/calendar"
	"github.com/hackgods/clinic-booking/internal/payment"
)

var validationMessages = map[string]string{
	"required":           "is required",
	"required_without":   "is required",
	"required_if":        "is required",
	"uuid":               "must be a valid UUID",
	"email":              "must be a valid email address",
	"civil_date":         "must be a date in YYYY-MM-DD format",
	"slot":               "is not a bookable slot",
	"payment_method":     "must be one of cash, card, transfer",
	"appointment_status": "must be one of pending, confirmed, completed, cancelled, rescheduled",
	"min":                "must be at least %s",
	"max":                "must be at most %s",
	"gt":                 "must be greater than %s",
}

// newValidator registers the domain tags; slot membership depends on the
// configured grid.
func newValidator(grid calendar.Grid) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("civil_date", func(fl validator.FieldLevel) bool {
		_, err := calendar.ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("slot", func(fl validator.FieldLevel) bool {
		return grid.Contains(fl.Field().String())
	})
	_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		_, ok := payment.ParseMethod(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("appointment_status", func(fl validator.FieldLevel) bool {
		_, ok := appointment.ParseStatus(fl.Field().String())
		return ok
	})

	return v
}

// validationError turns validator output into an InvalidArgument carrying
// one message per offending field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindInvalidArgument, err, "invalid request")
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fieldPath(fe.Namespace())
		if _, seen := fields[name]; seen {
			continue
		}
		msg, ok := validationMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			msg = strings.Replace(msg, "%s", fe.Param(), 1)
		}
		fields[name] = msg
	}
	return apperr.Invalid(fields)
}

// fieldPath drops the top-level struct name: "CreateAppointmentRequest.patient.name" -> "patient.name".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
