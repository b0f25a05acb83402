package models

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"easytrip/internal/domain"
)

// PassengerForm is one traveller on a booking.
type PassengerForm struct {
	Name   string `json:"name" validate:"required,min=2,max=100"`
	Age    int    `json:"age" validate:"required,min=1,max=120"`
	Gender string `json:"gender" validate:"required,oneof=male female other"`
}

// ContactForm is where the ticket and updates go.
type ContactForm struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Phone string `json:"phone" validate:"required,phone"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func formValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			_, ok := NormalizePhone(fl.Field().String())
			return ok
		}); err != nil {
			panic(err)
		}
		validate = v
	})
	return validate
}

// Validate checks the passenger fields.
func (p PassengerForm) Validate() error {
	return validateStruct(p, "")
}

// Validate checks the contact fields.
func (c ContactForm) Validate() error {
	return validateStruct(c, "")
}

// ValidateBookingForms checks all passengers and the contact block and
// returns every failure at once.
func ValidateBookingForms(passengers []PassengerForm, contact ContactForm) error {
	var all domain.ValidationErrors
	if len(passengers) == 0 {
		all = append(all, domain.ValidationError{Field: "passengers", Msg: "at least one passenger is required"})
	}
	for i, p := range passengers {
		all = appendErrors(all, validateStruct(p, "passengers["+strconv.Itoa(i)+"]."))
	}
	all = appendErrors(all, validateStruct(contact, "contact."))
	if len(all) == 0 {
		return nil
	}
	return all
}

// NormalizePhone strips formatting and accepts 10 to 15 digits with an
// optional leading plus.
func NormalizePhone(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	out := b.String()
	digits := strings.TrimPrefix(out, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return "", false
	}
	return out, true
}

func validateStruct(v any, prefix string) error {
	err := formValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.ValidationErrors{{Field: strings.TrimSuffix(prefix, "."), Msg: err.Error()}}
	}
	out := make(domain.ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, domain.ValidationError{Field: prefix + fe.Field(), Msg: describeTag(fe)})
	}
	return out
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	default:
		return "failed " + fe.Tag()
	}
}

func appendErrors(all domain.ValidationErrors, err error) domain.ValidationErrors {
	var ve domain.ValidationErrors
	if errors.As(err, &ve) {
		return append(all, ve...)
	}
	return all
}
