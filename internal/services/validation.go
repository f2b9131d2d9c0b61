package services

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// validUUID reports whether s is a well-formed UUID. Path and filter ids are
// checked before they reach the database so a malformed id never surfaces as
// a uuid cast error.
func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
