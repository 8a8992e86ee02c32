package token

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/anachro-go/rs485bus/addrtable"
	"github.com/anachro-go/rs485bus/dispatch"
	"github.com/anachro-go/rs485bus/internal/cos"
	"github.com/anachro-go/rs485bus/internal/mono"
	"github.com/anachro-go/rs485bus/internal/nlog"
	"github.com/anachro-go/rs485bus/rng"
	"github.com/anachro-go/rs485bus/slab"
	"github.com/anachro-go/rs485bus/tracing"
	"github.com/anachro-go/rs485bus/wire"
)

// Dom runs the Dom side of the token-grant loop described in §4.6: it
// round-robins every active address, offering each a bounded window to
// transmit, and evicts addresses that stay silent for too long.
type Dom struct {
	pool    *slab.Pool
	port    *dispatch.PortHandle
	table   *addrtable.Table
	rng     rng.RNG
	clock   mono.Clock
	limiter *rate.Limiter

	lastSeen map[wire.Addr]uint32
}

// NewDom builds a Dom-side token task bound to port (already registered
// for wire.PortToken) and the shared address table. pool backs outgoing
// payload serialization; it is normally the same pool the owning
// Dispatcher was built from (see Dispatcher.Pool).
func NewDom(pool *slab.Pool, port *dispatch.PortHandle, table *addrtable.Table, r rng.RNG, clock mono.Clock) *Dom {
	return &Dom{
		pool:     pool,
		port:     port,
		table:    table,
		rng:      r,
		clock:    clock,
		limiter:  rate.NewLimiter(rate.Every(GrantPace), 1),
		lastSeen: make(map[wire.Addr]uint32),
	}
}

// RunRound grants the token to every currently active address once, in
// table order, then returns. Callers loop RunRound forever as one of
// the cooperative tasks described in spec.md §5.
func (d *Dom) RunRound(ctx context.Context) error {
	active := d.table.ActiveAddrs()
	if len(active) == 0 {
		sleepCtx(ctx, EmptyPollPause)
		return nil
	}

	for _, a := range active {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		d.grantOne(ctx, a)
	}
	return nil
}

func (d *Dom) grantOne(ctx context.Context, a wire.Addr) {
	ctx, span := tracing.StartTokenSpan(ctx, int(a))
	defer span.End()

	now := d.clock.Micros()
	if _, ok := d.lastSeen[a]; !ok {
		d.lastSeen[a] = now
	}

	random := d.rng.Uint32()
	grant := wire.DomTokenGrantPayload{Random: random, MaxTimeUs: GrantMaxTimeUs}
	if err := d.sendTo(ctx, a, grant); err != nil {
		if cos.Rom.V(2, cos.ModTok) {
			nlog.Warningf("token(dom): send grant to %d failed: %v", a, err)
		}
		return
	}

	window, cancel := context.WithTimeout(ctx, time.Duration(GrantMaxTimeUs)*time.Microsecond)
	ok := d.waitRelease(window, a, random)
	cancel()

	if ok {
		d.lastSeen[a] = d.clock.Micros()
		return
	}

	if mono.MicrosSince(d.lastSeen[a], d.clock.Micros()) >= uint32(EvictAfter.Microseconds()) {
		d.table.Release(a)
		delete(d.lastSeen, a)
		if cos.Rom.V(1, cos.ModTok) {
			nlog.Warningf("token(dom): evicting address %d after %s of missed releases", a, EvictAfter)
		}
	}
}

// waitRelease listens until a matching TokenRelease arrives from a, or
// window's deadline elapses; any other frame (stale release from a
// prior round, release from a different address) is ignored and
// listening continues.
func (d *Dom) waitRelease(window context.Context, a wire.Addr, random uint32) bool {
	for {
		src, p, err := d.recv(window)
		if err != nil {
			if window.Err() != nil {
				return false
			}
			continue
		}
		if src != a || p.Random != random {
			continue
		}
		return true
	}
}

func (d *Dom) sendTo(ctx context.Context, dst wire.Addr, payload wire.DomTokenGrantPayload) error {
	view, err := wire.SlabEncode(d.pool, func(b []byte) ([]byte, error) {
		return payload.AppendMsg(b), nil
	})
	if err != nil {
		return err
	}
	msg := wire.LineMessage{
		Hdr: wire.LineMessageHeader{Dst: wire.AddrPort{Addr: wire.Local(dst), Port: wire.PortToken}},
		Msg: view,
	}
	return d.port.Send(ctx, msg)
}

func (d *Dom) recv(ctx context.Context) (wire.Addr, wire.SubTokenReleasePayload, error) {
	msg, err := d.port.Recv(ctx)
	if err != nil {
		return 0, wire.SubTokenReleasePayload{}, err
	}
	defer msg.Msg.Free()

	src, ok := msg.Hdr.Src.Addr.AsLocal()
	if !ok {
		return 0, wire.SubTokenReleasePayload{}, ErrBadAddressing
	}
	p, _, err := wire.ReadSubTokenReleasePayload(msg.Msg.Bytes())
	if err != nil {
		return 0, wire.SubTokenReleasePayload{}, err
	}
	return src, p, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
