package commerce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FaultKind classifies a failed backend call so callers can order their
// strategies: stock faults only ever come from the standard (non-direct)
// endpoints, transient faults suggest a retry, fatal faults do not.
type FaultKind string

const (
	FaultStock     FaultKind = "stock"
	FaultTransient FaultKind = "transient"
	FaultFatal     FaultKind = "fatal"
)

// Fault wraps a backend error with its classification. ProductName and Size
// are filled in when the backend names the offending line.
type Fault struct {
	Kind        FaultKind
	ProductName string
	Size        string
	Err         error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Kind) + " backend fault"
	}
	return fmt.Sprintf("%s backend fault: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// ErrCheckoutCompleted reports that the backend already finalized this
// checkout; completion is idempotent on the checkout token.
var ErrCheckoutCompleted = errors.New("checkout already completed")

// backend error codes surfaced through GraphQL error messages and the
// direct endpoints' error payloads.
const (
	codeInsufficientStock = "INSUFFICIENT_STOCK"
	codeOutOfStock        = "OUT_OF_STOCK"
)

// classify wraps err into a Fault. Timeouts and 5xx-style failures are
// transient; stock codes are stock; everything else is fatal.
func classify(err error) *Fault {
	if err == nil {
		return nil
	}

	var fault *Fault
	if errors.As(err, &fault) {
		return fault
	}

	if isStockMessage(err.Error()) {
		return &Fault{Kind: FaultStock, Err: err}
	}
	if isTransient(err) {
		return &Fault{Kind: FaultTransient, Err: err}
	}
	return &Fault{Kind: FaultFatal, Err: err}
}

func isStockMessage(message string) bool {
	upper := strings.ToUpper(message)
	return strings.Contains(upper, codeInsufficientStock) || strings.Contains(upper, codeOutOfStock)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := err.Error()
	for _, marker := range []string{"502", "503", "504", "timeout", "temporarily unavailable", "connection refused", "connection reset"} {
		if strings.Contains(strings.ToLower(message), marker) {
			return true
		}
	}
	return false
}

// IsStock reports whether err is (or wraps) a stock fault.
func IsStock(err error) bool {
	var fault *Fault
	return errors.As(err, &fault) && fault.Kind == FaultStock
}

// IsTransient reports whether err is (or wraps) a transient fault.
func IsTransient(err error) bool {
	var fault *Fault
	return errors.As(err, &fault) && fault.Kind == FaultTransient
}
