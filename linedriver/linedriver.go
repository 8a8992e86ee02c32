// Package linedriver is the boundary between Dispatch's queues and the
// physical bus: it pops framed bytes from Dispatch's outgoing queues and
// pushes received bytes into Dispatch's incoming queue. The real
// UARTE-backed implementation is out of scope (spec.md §1's exclusion
// list); this package provides Pump and Run, which drive a Dispatcher
// against a pair of tx/rx functions, and the in-memory Loopback test
// double that supplies such functions.
package linedriver

import (
	"context"
	"time"

	"github.com/anachro-go/rs485bus/dispatch"
)

// Pump runs one iteration of the line driver's duty cycle against a
// real *dispatch.Dispatcher: drain whatever is queued for transmission,
// write it to tx, and hand anything read from rx to IngestRaw. Pump
// does not block; callers drive it from their own poll loop at
// whatever cadence the underlying transport needs.
func Pump(d *dispatch.Dispatcher, tx func([]byte) error, rx func() ([]byte, bool)) error {
	for {
		data, box, ok := d.PopOutgoingHi()
		if !ok {
			break
		}
		err := tx(data)
		box.Free()
		if err != nil {
			return err
		}
	}
	for {
		data, box, ok := d.PopOutgoingLo()
		if !ok {
			break
		}
		err := tx(data)
		box.Free()
		if err != nil {
			return err
		}
	}
	for {
		frame, ok := rx()
		if !ok {
			break
		}
		if err := d.IngestRaw(frame); err != nil {
			return err
		}
	}
	return nil
}

// Run loops Pump at the given poll interval until ctx is cancelled.
func Run(ctx context.Context, d *dispatch.Dispatcher, tx func([]byte) error, rx func() ([]byte, bool), poll time.Duration) {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = Pump(d, tx, rx)
		}
	}
}
