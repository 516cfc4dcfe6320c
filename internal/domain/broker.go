package domain

import (
	"context"
	"errors"
	"time"
)

// Broker is the capability set every adapter (real or simulated) must
// implement, per spec §4.6 and §9's polymorphism note: the contract is the
// capability set, not its encoding.
type Broker interface {
	Kind() BrokerKind
	PlaceMarketOrder(ctx context.Context, order OrderRequest) (Placement, error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)
	PollPending(ctx context.Context) ([]OrderState, error)
	// WaitUntilMarketOpen returns nil if the market is open right now, else
	// the duration until the next open. It never blocks; the caller decides
	// whether to sleep.
	WaitUntilMarketOpen(ctx context.Context) (*time.Duration, error)
	ParseOrderID(s string) (string, error)
}

// BrokerErrorKind classifies a broker failure per the taxonomy in spec §4.6
// / §7, distinguishing transient (retriable) from definitive (final) errors.
type BrokerErrorKind int

const (
	BrokerErrNetwork BrokerErrorKind = iota
	BrokerErrRateLimit
	BrokerErrUnavailable
	BrokerErrAuth
	BrokerErrInvalidOrder
	BrokerErrNotFound
)

// Transient reports whether this error kind should be retried with backoff.
func (k BrokerErrorKind) Transient() bool {
	switch k {
	case BrokerErrNetwork, BrokerErrRateLimit, BrokerErrUnavailable:
		return true
	default:
		return false
	}
}

// BrokerError wraps a broker-adapter failure with its taxonomy kind and,
// for rate limiting, the server-advised retry delay.
type BrokerError struct {
	Kind       BrokerErrorKind
	Message    string
	RetryAfter time.Duration // only meaningful when Kind == BrokerErrRateLimit
	Err        error
}

func (e *BrokerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "broker error"
}

func (e *BrokerError) Unwrap() error { return e.Err }

// AsBrokerError extracts a *BrokerError from err, if any.
func AsBrokerError(err error) (*BrokerError, bool) {
	var be *BrokerError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
