package models

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("requested resource not found")
var ErrConflict = errors.New("resource conflict, item already exists")
var ErrInvalidInput = errors.New("invalid input")
var ErrExternalService = errors.New("external service failure")

// ErrInvalidPhoneNumber indicates a phone number that could not be
// normalized to the canonical international format the gateway accepts.
// It matches ErrInvalidInput under errors.Is.
var ErrInvalidPhoneNumber = fmt.Errorf("%w: phone number is not a valid mobile number", ErrInvalidInput)

// ErrInvalidCoordinates indicates a latitude/longitude pair outside the
// WGS84 range. Route sequencing rejects the whole request in this case;
// silently skipping a stop would change delivery commitments. It matches
// ErrInvalidInput under errors.Is.
var ErrInvalidCoordinates = fmt.Errorf("%w: coordinates out of range", ErrInvalidInput)

// ErrReceiptTotalMismatch indicates a receipt whose total does not equal
// subtotal plus tax.
var ErrReceiptTotalMismatch = errors.New("receipt total does not equal subtotal plus tax")

// ErrorResponse is the standard JSON error body returned by handlers.
type ErrorResponse struct {
	Message string `json:"message"`
}
