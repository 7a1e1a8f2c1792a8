package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for ledger operations.
var (
	ErrTenderNotFound    = errors.New("custom tender with the provided ID not found")
	ErrDuplicateTenderID = errors.New("custom tender with this ID already exists")
	ErrChargeNotFound    = errors.New("credit card charge with the provided charge ID not found")
	ErrDuplicateCharge   = errors.New("a charge with this ID already exists")
	ErrOrderNotFound     = errors.New("order not found")
)

// BusinessError is a rule violation whose message is safe to show to the
// caller (merchant or shopper), as opposed to remote or internal failures
// which surface only as a generic message.
type BusinessError struct {
	msg string
}

func (e *BusinessError) Error() string { return e.msg }

// Businessf creates a user-facing business-rule error.
func Businessf(format string, args ...interface{}) error {
	return &BusinessError{msg: fmt.Sprintf(format, args...)}
}

// IsBusiness reports whether err (or anything it wraps) is a business-rule
// violation.
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}
