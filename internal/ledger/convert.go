// Package ledger provides exact numeric conversions between the chain's
// unsigned share/cent quantities and the signed integers Postgres stores
// them as.
package ledger

import (
	"errors"
	"fmt"
	"math"
)

// ErrShareOverflow is returned when a u64 share (or cent) quantity cannot be
// represented exactly as an int64.
var ErrShareOverflow = errors.New("ledger: quantity exceeds int64 range")

// SharesToDBInt64 converts a non-negative share count to the int64 the
// executions.shares column stores, refusing to wrap or truncate. Ported from
// original_source's shares_to_db_i64: the whole point is that financial
// quantities never lose precision silently.
func SharesToDBInt64(shares uint64) (int64, error) {
	if shares > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d shares", ErrShareOverflow, shares)
	}
	return int64(shares), nil
}

// DBInt64ToShares reverses SharesToDBInt64, rejecting a negative column
// value rather than silently reinterpreting its sign.
func DBInt64ToShares(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: negative shares column value %d", ErrShareOverflow, v)
	}
	return uint64(v), nil
}

// CentsToDBInt64 is SharesToDBInt64's counterpart for price_cents.
func CentsToDBInt64(cents uint64) (int64, error) {
	if cents > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d cents", ErrShareOverflow, cents)
	}
	return int64(cents), nil
}
