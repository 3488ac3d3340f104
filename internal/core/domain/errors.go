package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidBaseline    = errors.New("invalid baseline")
)

// Field names reported back to the order form.
const (
	FieldAddress = "address"
	FieldContact = "contact"
	FieldItems   = "items"
	FieldCaptcha = "captcha"
)

// ValidationError is a user-correctable problem with one form field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationErrors collects every problem found in a single validation pass.
type ValidationErrors []ValidationError

func (v *ValidationErrors) Add(field, reason string) {
	*v = append(*v, ValidationError{Field: field, Reason: reason})
}

func (v ValidationErrors) Has(field string) bool {
	for _, e := range v {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Fields returns each failing field once, in first-seen order.
func (v ValidationErrors) Fields() []string {
	seen := make(map[string]bool, len(v))
	var fields []string
	for _, e := range v {
		if !seen[e.Field] {
			seen[e.Field] = true
			fields = append(fields, e.Field)
		}
	}
	return fields
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Reason)
	}
	return strings.Join(parts, "; ")
}
