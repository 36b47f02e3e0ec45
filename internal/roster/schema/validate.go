package schema

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	courseCodeRx = regexp.MustCompile(`^[A-Z]{4}-\d{4}$`)
	regNoRx      = regexp.MustCompile(`^[A-Z]{4}\d{9}$`)
	contactRx    = regexp.MustCompile(`^03\d{9}$`)
	alphaSpaceRx = regexp.MustCompile(`^[A-Za-z ]+$`)
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		mustRegister(v, "coursecode", courseCodeRx)
		mustRegister(v, "regno", regNoRx)
		mustRegister(v, "contact", contactRx)
		mustRegister(v, "alphaspace", alphaSpaceRx)
		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, rx *regexp.Regexp) {
	err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return rx.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(fmt.Sprintf("schema: failed to register %q validation: %v", tag, err))
	}
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string
	Message string
}

// FieldErrors is returned by Validate when one or more fields are invalid.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + ": " + e.Message
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}

// Validate checks a record (Student, Course, Enrollment or Attendance) against
// its field rules. It returns FieldErrors when the record is invalid.
func Validate(record any) error {
	err := validatorInstance().Struct(record)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate record: %w", err)
	}
	out := make(FieldErrors, 0, len(verrs))
	for _, ve := range verrs {
		out = append(out, FieldError{Field: ve.Field(), Message: describe(ve)})
	}
	return out
}

// ValidateVar checks a single value against a tag expression such as "required,coursecode".
func ValidateVar(value any, tag string) error {
	return validatorInstance().Var(value, tag)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "coursecode":
		return "must look like ABCD-1234"
	case "regno":
		return "must be four capital letters followed by nine digits"
	case "contact":
		return "must be 11 digits starting with 03"
	case "alphaspace":
		return "may contain only letters and spaces"
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind().String() == "string" {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}
