// Package addrtable tracks which of the 31 assignable Sub addresses
// are currently occupied, as a single atomically-updated bitmask so
// Dom's discovery loop and its dispatch/telemetry readers never need
// a lock to agree on the current occupancy snapshot.
package addrtable

import (
	"sync/atomic"

	"github.com/anachro-go/rs485bus/wire"
)

// MaxAddr is the highest assignable Sub address; bit i of the mask
// represents address i+1 (address 0 is Dom and is never tracked here).
const MaxAddr = 31

// Table is an atomic 32-bit occupancy mask over addresses 1..31.
type Table struct {
	active atomic.Uint32
}

// bitFor maps an address to its mask bit, or reports false if addr is
// outside the assignable range.
func bitFor(addr wire.Addr) (uint32, bool) {
	if addr < 1 || addr > MaxAddr {
		return 0, false
	}
	return 1 << uint(addr-1), true
}

// Claim atomically marks addr occupied and reports whether it was
// free beforehand. A false result means addr was already claimed —
// the caller has a collision and must pick another provisional
// address.
func (t *Table) Claim(addr wire.Addr) bool {
	bit, ok := bitFor(addr)
	if !ok {
		return false
	}
	for {
		old := t.active.Load()
		if old&bit != 0 {
			return false
		}
		if t.active.CompareAndSwap(old, old|bit) {
			return true
		}
	}
}

// Release atomically marks addr free again.
func (t *Table) Release(addr wire.Addr) {
	bit, ok := bitFor(addr)
	if !ok {
		return
	}
	for {
		old := t.active.Load()
		if t.active.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

// IsActive reports whether addr is currently claimed.
func (t *Table) IsActive(addr wire.Addr) bool {
	bit, ok := bitFor(addr)
	if !ok {
		return false
	}
	return t.active.Load()&bit != 0
}

// Snapshot returns the raw occupancy mask at a single point in time,
// for telemetry and diagnostics reporting.
func (t *Table) Snapshot() uint32 { return t.active.Load() }

// Count returns the number of currently-active addresses.
func (t *Table) Count() int {
	mask := t.active.Load()
	n := 0
	for mask != 0 {
		mask &= mask - 1
		n++
	}
	return n
}

// Available reports whether any address in 1..31 is still free.
func (t *Table) Available() bool {
	const full = (1 << MaxAddr) - 1
	return t.active.Load()&full != full
}

// NextFree returns the lowest unclaimed address, or (0, false) if the
// table is full. It does not claim the address; callers race against
// other claimants via Claim and must retry on a false result.
func (t *Table) NextFree() (wire.Addr, bool) {
	mask := t.active.Load()
	for i := wire.Addr(1); i <= MaxAddr; i++ {
		bit, _ := bitFor(i)
		if mask&bit == 0 {
			return i, true
		}
	}
	return 0, false
}

// Offers snapshots the currently-free addresses as the offers list a
// Dom discovery cycle broadcasts in DiscoverInitial.
func (t *Table) Offers() wire.AddrList {
	mask := t.active.Load()
	items := make([]wire.Addr, 0, MaxAddr)
	for i := wire.Addr(1); i <= MaxAddr; i++ {
		bit, _ := bitFor(i)
		if mask&bit == 0 {
			items = append(items, i)
		}
	}
	return wire.AddrList{Items: items}
}

// ActiveAddrs snapshots the currently-claimed addresses, for the token
// grant loop's per-cycle round-robin.
func (t *Table) ActiveAddrs() []wire.Addr {
	mask := t.active.Load()
	items := make([]wire.Addr, 0, MaxAddr)
	for i := wire.Addr(1); i <= MaxAddr; i++ {
		bit, _ := bitFor(i)
		if mask&bit != 0 {
			items = append(items, i)
		}
	}
	return items
}
