package services

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrValidation marks malformed or missing input; nothing was mutated.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing task, task set or challenge.
	ErrNotFound = errors.New("not found")
	// ErrPersistence marks a storage failure.
	ErrPersistence = errors.New("persistence failure")
)

var validate = validator.New()

func validateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
