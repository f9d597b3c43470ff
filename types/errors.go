package types

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable means the market-data source returned nothing usable.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrInvalidPrice means the current price is missing, NaN or not positive.
	ErrInvalidPrice = errors.New("invalid current price")
	// ErrNoQuantity means sizing produced a quantity <= 0.
	ErrNoQuantity = errors.New("order quantity must be positive")
	// ErrNoPosition means there is nothing to sell.
	ErrNoPosition = errors.New("no open position")
	// ErrOrderRejected is any broker refusal that is not a balance problem.
	ErrOrderRejected = errors.New("order rejected")
	// ErrInsufficientBalance is the recoverable BUY-side rejection.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrServiceUnavailable covers advisory services (LLM, notifications).
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrConfigInvalid is fatal at startup.
	ErrConfigInvalid = errors.New("configuration invalid")
)

// OrderError carries the broker's raw response so it can be logged in full.
type OrderError struct {
	Op      string
	Err     error
	Payload string
}

func (e *OrderError) Error() string {
	if e.Payload == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Payload)
}

func (e *OrderError) Unwrap() error { return e.Err }
