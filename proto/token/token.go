// Package token implements the cooperative token-grant scheme that lets
// the Dom partition the shared medium in time: a Sub may only transmit
// while it holds the token, eliminating multi-writer collisions outside
// discovery's jittered retries.
package token

import (
	"errors"
	"time"
)

const (
	// GrantMaxTimeUs is the window a Sub is authorized to hold the
	// token for, per grant (spec.md §4.6).
	GrantMaxTimeUs = 50_000

	// EvictAfter is how long a Dom waits without a successful release
	// from an address before clearing it from the address table.
	EvictAfter = 5 * time.Second

	// EmptyPollPause is how long the Dom sleeps between rounds when the
	// address table has no active addresses yet.
	EmptyPollPause = 100 * time.Millisecond

	// GrantPace is the minimum spacing between successive grants, paced
	// with a rate limiter rather than a bare sleep so bursts of
	// already-elapsed deadlines don't flood the wire.
	GrantPace = time.Millisecond

	// SubGrantWait is how long a Sub waits for each TokenGrant.
	SubGrantWait = time.Second

	// SubRetryPause is the sleep a Sub takes before re-checking whether
	// it has a committed address.
	SubRetryPause = 10 * time.Millisecond

	// MaxMissedGrants is the number of consecutive grant timeouts a Sub
	// tolerates before concluding the bus is dead.
	MaxMissedGrants = 10
)

var (
	// ErrBusDead is returned (and, per spec.md, fatal) once a Sub has
	// missed MaxMissedGrants consecutive TokenGrants.
	ErrBusDead       = errors.New("token: bus assumed dead after consecutive missed grants")
	ErrBadAddressing = errors.New("token: frame source is not a local address")
)
