// Package mono provides the bus core's Clock collaborator: a rolling
// 32-bit microsecond counter with wrap-safe arithmetic. Every timeout in
// the discovery and token protocols is computed through this package so
// that a wrap at ~71 minutes (2^32 microseconds) never produces a
// negative or absurdly large duration.
package mono

import "time"

// Clock is the external collaborator the protocol and dispatch layers
// consume; production code uses Real, tests use a Fake they advance by
// hand.
type Clock interface {
	Micros() uint32
	Millis() uint32
}

// MicrosSince returns the wrap-safe elapsed microseconds from start to
// now, assuming now was sampled no more than one wrap period after
// start. The result equals wrapping uint32 subtraction (the int32 round
// trip leaves the bits unchanged), so a wrap (now < start in raw terms)
// still yields a small positive elapsed value.
func MicrosSince(start, now uint32) uint32 {
	return uint32(int32(now - start))
}

func MillisSince(start, now uint32) uint32 {
	return uint32(int32(now - start))
}

// Real wraps time.Now() as a rolling microsecond/millisecond counter.
type Real struct{ epoch time.Time }

func NewReal() *Real { return &Real{epoch: time.Now()} }

func (r *Real) Micros() uint32 { return uint32(time.Since(r.epoch).Microseconds()) }
func (r *Real) Millis() uint32 { return uint32(time.Since(r.epoch).Milliseconds()) }

// Fake is a manually-advanced clock for deterministic tests.
type Fake struct{ us uint32 }

func NewFake() *Fake                { return &Fake{} }
func (f *Fake) Micros() uint32       { return f.us }
func (f *Fake) Millis() uint32       { return f.us / 1000 }
func (f *Fake) Advance(us uint32)    { f.us += us }
func (f *Fake) Set(us uint32)        { f.us = us }
