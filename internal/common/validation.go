package common

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// StudentIDPattern is a two-letter prefix followed by six digits.
var StudentIDPattern = regexp.MustCompile(`^[A-Za-z]{2}[0-9]{6}$`)

const studentIDTag = "student_id"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator, configured on first use.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Use JSON tag names for errors instead of Go struct names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation(studentIDTag, func(fl validator.FieldLevel) bool {
			return IsValidStudentID(fl.Field().String())
		})
	})
	return validate
}

// IsValidStudentID reports whether id matches the student id format.
func IsValidStudentID(id string) bool {
	return StudentIDPattern.MatchString(strings.TrimSpace(id))
}

// ValidateStruct runs struct-tag validation and returns an INVALID_ARGUMENT AppError
// listing every failing field.
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewAppError(CodeInvalidArgument, err.Error(), ErrValidation)
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fieldMessage(fe))
	}
	return NewAppError(CodeInvalidArgument, strings.Join(messages, "; "), ErrValidation)
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case studentIDTag:
		return fmt.Sprintf("%s must be two letters followed by six digits", field)
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}
