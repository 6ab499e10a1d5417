package domain

import (
	"errors"
	"fmt"
)

type FailureKind int

const (
	// FailureTransient covers network errors, timeouts and unclassified
	// gateway responses; retried on the next tick, never fatal.
	FailureTransient FailureKind = iota
	// FailureInsufficientFunds skips the order without retrying in-tick.
	FailureInsufficientFunds
	// FailureExchangeMismatch means the symbol was rejected for the given
	// exchange code; the executor retries alternate codes.
	FailureExchangeMismatch
	// FailureMarketClosed is the holiday/closure signature; it must bubble
	// up so the scheduler can trip the circuit breaker.
	FailureMarketClosed
)

func (k FailureKind) String() string {
	switch k {
	case FailureInsufficientFunds:
		return "insufficient_funds"
	case FailureExchangeMismatch:
		return "exchange_mismatch"
	case FailureMarketClosed:
		return "market_closed"
	default:
		return "transient"
	}
}

// BrokerError is a classified gateway failure.
type BrokerError struct {
	Kind    FailureKind
	Code    string // broker message code, e.g. APBK0656
	Message string
}

func (e *BrokerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker: %s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("broker: %s: %s", e.Kind, e.Message)
}

func NewBrokerError(kind FailureKind, code, message string) *BrokerError {
	return &BrokerError{Kind: kind, Code: code, Message: message}
}

func failureIs(err error, kind FailureKind) bool {
	var be *BrokerError
	return errors.As(err, &be) && be.Kind == kind
}

func IsInsufficientFunds(err error) bool { return failureIs(err, FailureInsufficientFunds) }
func IsExchangeMismatch(err error) bool  { return failureIs(err, FailureExchangeMismatch) }
func IsMarketClosed(err error) bool      { return failureIs(err, FailureMarketClosed) }
