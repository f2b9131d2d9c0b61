package services

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// FieldError is one violated validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Response is the uniform envelope returned by every endpoint.
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// SendJSON writes a success envelope.
func SendJSON(w http.ResponseWriter, statusCode int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{Success: true, Message: message, Data: data})
}

// SendErrorResponse writes a failure envelope. Validation errors, when
// present, are reported one entry per violated rule rather than first-only.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := Response{Success: false, Message: message}
	if validationErr != nil {
		var verrs validator.ValidationErrors
		if errors.As(validationErr, &verrs) {
			for _, err := range verrs {
				resp.Errors = append(resp.Errors, FieldError{
					Field:   err.Field(),
					Message: "failed on '" + err.Tag() + "' rule",
				})
			}
		} else {
			resp.Errors = append(resp.Errors, FieldError{Field: "body", Message: validationErr.Error()})
		}
	}

	json.NewEncoder(w).Encode(resp)
}

// SendInternalError logs the real cause and returns a generic message so no
// storage or hashing detail crosses the boundary.
func SendInternalError(w http.ResponseWriter, tag string, err error) {
	log.Printf("%s Internal error: %v", tag, err)
	SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
}

// DecodeJSON reads a single JSON object into dst with the standard body
// limits applied.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}

	return nil
}
