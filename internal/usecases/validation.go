package usecases

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// Struct validates s by its `validate` tags.
func (v *Validator) Struct(s interface{}) error {
	return wrapValidation(v.v.Struct(s))
}

// Var validates a single value against tag.
func (v *Validator) Var(field string, value interface{}, tag string) error {
	if err := v.v.Var(value, tag); err != nil {
		return fmt.Errorf("%w: %s is invalid", ErrBusinessLogicViolation, field)
	}
	return nil
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", ErrBusinessLogicViolation, err)
	}

	fields := make([]string, 0, len(errs))
	for _, fe := range errs {
		fields = append(fields, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrBusinessLogicViolation, strings.Join(fields, ", "))
}
