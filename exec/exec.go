// Package exec wires the cooperative goroutine set described in
// spec.md §5 together for one node: the dispatch loop, the line
// driver pump, and whichever protocol tasks (discovery, token) apply
// to that node's role. Grounded on the teacher's xact/xaction pattern
// of a supervising parent that aborts every child on the first error —
// realized here with golang.org/x/sync/errgroup.WithContext, the
// direct idiomatic Go translation of that supervision model.
package exec

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anachro-go/rs485bus/addrtable"
	"github.com/anachro-go/rs485bus/config"
	"github.com/anachro-go/rs485bus/dispatch"
	"github.com/anachro-go/rs485bus/internal/mono"
	"github.com/anachro-go/rs485bus/linedriver"
	"github.com/anachro-go/rs485bus/proto/discover"
	"github.com/anachro-go/rs485bus/proto/token"
	"github.com/anachro-go/rs485bus/rng"
	"github.com/anachro-go/rs485bus/wire"
)

// ProcessInterval is how often the dispatch loop's ProcessMessages
// pass runs. The line loop uses the same interval as its poll period:
// linedriver.Run calls Pump once per tick, so it bounds both how
// promptly Dispatch reacts to ingested frames and how promptly the
// line driver moves frames on and off the line.
const ProcessInterval = time.Millisecond

// HighPriorityPorts is the fixed set of ports that bypass send_auth on
// egress (spec.md §4.3): discovery and token.
var HighPriorityPorts = map[uint16]bool{wire.PortDiscovery: true, wire.PortToken: true}

// LineIO is the transmit/receive pair a concrete line driver
// implementation supplies; see linedriver.Pump.
type LineIO struct {
	Tx func([]byte) error
	Rx func() ([]byte, bool)
}

func dispatchLoop(ctx context.Context, d *dispatch.Dispatcher) error {
	t := time.NewTicker(ProcessInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.ProcessMessages(HighPriorityPorts)
		}
	}
}

func lineLoop(ctx context.Context, d *dispatch.Dispatcher, io LineIO) error {
	linedriver.Run(ctx, d, io.Tx, io.Rx, ProcessInterval)
	return ctx.Err()
}

// Dom runs a coordinator node's full task set until ctx is cancelled
// or any task returns an error: the dispatch loop, the line driver
// pump, the discovery Ready/Steady/Go cycle, and the token-grant
// round, looped forever.
func Dom(ctx context.Context, cfg *config.BusConfig, d *dispatch.Dispatcher, discoveryPort, tokenPort *dispatch.PortHandle, table *addrtable.Table, r rng.RNG, clock mono.Clock, io LineIO) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatchLoop(gctx, d) })
	g.Go(func() error { return lineLoop(gctx, d, io) })

	dom := discover.NewDom(cfg, d.Pool(), discoveryPort, table, r, clock)
	g.Go(func() error {
		for {
			if _, err := dom.RunCycle(gctx); err != nil {
				return err
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
		}
	})

	tok := token.NewDom(d.Pool(), tokenPort, table, r, clock)
	g.Go(func() error {
		for {
			if err := tok.RunRound(gctx); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}

// Sub runs a subordinate node's full task set: the dispatch loop, the
// line driver pump, one discovery obtain_addr attempt (after which the
// task exits cleanly; the node is addressed for the rest of its
// lifetime), and the token loop, looped forever.
func Sub(ctx context.Context, d *dispatch.Dispatcher, discoveryPort, tokenPort *dispatch.PortHandle, r rng.RNG, clock mono.Clock, io LineIO) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatchLoop(gctx, d) })
	g.Go(func() error { return lineLoop(gctx, d, io) })

	sub := discover.NewSub(d, discoveryPort, r, clock)
	g.Go(func() error {
		_, err := sub.ObtainAddr(gctx)
		return err
	})

	tok := token.NewSub(d, tokenPort)
	g.Go(func() error {
		for {
			if err := tok.RunRound(gctx); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}
