package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain outcomes. Failures of the trade flows are
// values of this taxonomy rather than bare errors so the HTTP layer can map
// them without string matching.
type ErrorKind string

const (
	KindValidationFailed    ErrorKind = "VALIDATION_FAILED"
	KindAccountFrozen       ErrorKind = "ACCOUNT_FROZEN"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindDuplicateOrderNo    ErrorKind = "DUPLICATE_ORDER_NO"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindAlreadyClosed       ErrorKind = "ALREADY_CLOSED"
	KindBridgeUnavailable   ErrorKind = "BRIDGE_UNAVAILABLE"
	KindBridgeRejected      ErrorKind = "BRIDGE_REJECTED"
	KindMarketClosed        ErrorKind = "MARKET_CLOSED"
	KindTransactionAborted  ErrorKind = "TRANSACTION_ABORTED"
	KindInternal            ErrorKind = "INTERNAL"
)

// DomainError is a tagged failure outcome. Retcode carries the bridge retcode
// for BRIDGE_REJECTED kinds, zero otherwise.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Retcode int
}

func (e *DomainError) Error() string {
	if e.Retcode != 0 {
		return fmt.Sprintf("%s: %s (retcode %d)", e.Kind, e.Message, e.Retcode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewDomainError builds a DomainError of the given kind.
func NewDomainError(kind ErrorKind, format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind from err, unwrapping as needed.
// Returns KindInternal for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
