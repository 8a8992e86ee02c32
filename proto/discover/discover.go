// Package discover implements the three-phase (Ready/Steady/Go) address
// assignment protocol run over the discovery port: the Dom broadcasts
// offers and collects claims, the Sub side picks one and proves it twice
// more before either side trusts it.
package discover

import (
	"errors"
	"time"
)

// Timing constants the protocol names but leaves to the implementer to
// fix a value for; see DESIGN.md. Everything else timing-related
// (min/max wait, boost/normal interval, boost exit) comes from
// config.BusConfig.Discovery so it can be tuned without a rebuild.
const (
	// SubBroadAckAckWaitUs is the fixed portion of a Sub's wait for
	// DiscoverAckAck, added to (max_delay - delay). 20ms covers the Dom's
	// own validate-and-send latency across the broadcast window with
	// margin.
	SubBroadAckAckWaitUs = 20_000

	// PingWindow is how long a Sub waits for each of the two PingReq
	// frames Dom sends during Steady/Go.
	PingWindow = 2500 * time.Millisecond

	// SettleSleep is how long a Sub waits after flushing its outbox
	// before listening for DiscoverInitial, to let the line go idle.
	SettleSleep = 2 * time.Millisecond

	// SubInitialWait bounds how long an unassigned Sub waits for a
	// DiscoverInitial before giving up and restarting from step 1.
	SubInitialWait = 2 * time.Second
)

var (
	ErrNoOffers      = errors.New("discover: address table has no available addresses")
	ErrBadAddressing = errors.New("discover: frame source is not a local address")
)
