// Package model holds the record type accepted on the ingest endpoint.
//
// Required scalar fields are pointers so that a missing field can be told
// apart from a zero value: "completed": false and "total": 0 are valid, an
// absent "completed" is not.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// LogPayload is one ingested record. It is serialized back to the sink with
// the same field names it was received with.
type LogPayload struct {
	UserID    *int64   `json:"user_id" validate:"required"`
	Total     *float64 `json:"total" validate:"required"`
	Title     *string  `json:"title" validate:"required"`
	Meta      *Meta    `json:"meta"`
	Completed *bool    `json:"completed" validate:"required"`
}

// Meta carries optional login history and contact numbers.
type Meta struct {
	Logins       []Login       `json:"logins"`
	PhoneNumbers *PhoneNumbers `json:"phone_numbers"`
}

// Login is a single login event.
type Login struct {
	Time string `json:"time"`
	IP   string `json:"ip"`
}

// PhoneNumbers groups the known phone numbers of a user.
type PhoneNumbers struct {
	Home   string `json:"home"`
	Mobile string `json:"mobile"`
}

// ErrInvalidPayload is wrapped by every decode or validation failure.
var ErrInvalidPayload = errors.New("invalid payload")

// FieldError describes one failed field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s is %s", f.Field, f.Rule))
	}
	return "invalid payload: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report wire names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the required fields.
func (p *LogPayload) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

// DecodeLogPayload reads a single JSON object from r and validates it.
// Unknown fields are ignored.
func DecodeLogPayload(r io.Reader) (LogPayload, error) {
	var p LogPayload
	dec := json.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		return LogPayload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if dec.More() {
		return LogPayload{}, fmt.Errorf("%w: unexpected data after JSON object", ErrInvalidPayload)
	}
	if err := p.Validate(); err != nil {
		return LogPayload{}, err
	}
	return p, nil
}
