package discover

import (
	"context"
	"time"

	"github.com/teris-io/shortid"

	"github.com/anachro-go/rs485bus/addrtable"
	"github.com/anachro-go/rs485bus/config"
	"github.com/anachro-go/rs485bus/dispatch"
	"github.com/anachro-go/rs485bus/internal/cos"
	"github.com/anachro-go/rs485bus/internal/mono"
	"github.com/anachro-go/rs485bus/internal/nlog"
	"github.com/anachro-go/rs485bus/rng"
	"github.com/anachro-go/rs485bus/slab"
	"github.com/anachro-go/rs485bus/tracing"
	"github.com/anachro-go/rs485bus/wire"
)

// candidate is a Sub that survived a phase of the Ready/Steady/Go
// handshake, identified by its provisional address.
type candidate struct {
	addr wire.Addr
}

// Dom runs the Dom side of the discovery cycle described in §4.4: it
// owns no state across cycles except boost-mode timing, delegating
// occupancy to the shared address table.
type Dom struct {
	cfg   *config.BusConfig
	pool  *slab.Pool
	port  *dispatch.PortHandle
	table *addrtable.Table
	rng   rng.RNG
	clock mono.Clock

	boostMode       bool
	haveLastNewAddr bool
	lastNewAddrAt   uint32
}

// NewDom builds a Dom-side discovery task bound to port (already
// registered for wire.PortDiscovery), table, and the given RNG/clock.
// pool backs outgoing payload serialization; it is normally the same
// pool the owning Dispatcher was built from (see Dispatcher.Pool).
// Wait windows and inter-phase sleeps come from cfg.Discovery.
func NewDom(cfg *config.BusConfig, pool *slab.Pool, port *dispatch.PortHandle, table *addrtable.Table, r rng.RNG, clock mono.Clock) *Dom {
	// boost_mode starts true: until a commit establishes
	// last_new_address_at, there is no way to measure 3s of quiet, so
	// the Dom polls aggressively from a cold start the same as it does
	// right after the most recent new address.
	return &Dom{cfg: cfg, pool: pool, port: port, table: table, rng: r, clock: clock, boostMode: true}
}

// RunCycle executes one full Ready/Steady/Go cycle and returns the
// number of addresses newly committed to the address table. A cycle
// that finds no free addresses, or that loses all candidates before
// Go, returns (0, nil): spec.md treats both as a normal empty round,
// not an error.
func (d *Dom) RunCycle(ctx context.Context) (int, error) {
	cycleID, _ := shortid.Generate()
	ctx, span := tracing.StartDiscoverySpan(ctx, cycleID)
	defer span.End()

	d.sleepCycleInterval(ctx)

	offers := d.table.Offers()
	if len(offers.Items) == 0 {
		return 0, nil
	}

	domRandom := d.rng.Uint32()
	ready, err := d.phaseReady(ctx, domRandom, offers)
	if err != nil || len(ready) == 0 {
		return 0, err
	}
	if cos.Rom.V(3, cos.ModDisc) {
		nlog.Infof("discover(dom): cycle %s ready phase admits %d candidate(s)", cycleID, len(ready))
	}

	if err := d.sleepInterCycle(ctx); err != nil {
		return 0, err
	}
	steady, err := d.phaseDoublePing(ctx, ready)
	if err != nil || len(steady) == 0 {
		return 0, err
	}

	if err := d.sleepInterCycle(ctx); err != nil {
		return 0, err
	}
	goSet, err := d.phaseDoublePing(ctx, steady)
	if err != nil || len(goSet) == 0 {
		return 0, err
	}

	committed := 0
	for _, c := range goSet {
		if d.table.Claim(c.addr) {
			committed++
		} else if cos.Rom.V(2, cos.ModDisc) {
			nlog.Warningf("discover(dom): cycle %s address %d reached Go but was already active", cycleID, c.addr)
		}
	}
	if committed > 0 {
		d.haveLastNewAddr = true
		d.lastNewAddrAt = d.clock.Micros()
		if cos.Rom.V(1, cos.ModDisc) {
			nlog.Infof("discover(dom): cycle %s committed %d new address(es)", cycleID, committed)
		}
	}
	return committed, nil
}

// sleepCycleInterval sleeps the boost or normal inter-cycle interval,
// and leaves boost mode once 3s have passed since the last commit.
func (d *Dom) sleepCycleInterval(ctx context.Context) {
	if d.haveLastNewAddr && mono.MicrosSince(d.lastNewAddrAt, d.clock.Micros()) >= uint32(d.cfg.Discovery.BoostExit.Microseconds()) {
		d.boostMode = false
	}
	sleepCtx(ctx, d.interval())
}

func (d *Dom) sleepInterCycle(ctx context.Context) error {
	return sleepCtxErr(ctx, d.interval())
}

func (d *Dom) interval() time.Duration {
	if d.boostMode {
		return d.cfg.Discovery.BoostIval
	}
	return d.cfg.Discovery.NormIval
}

func (d *Dom) minWaitUs() uint32 { return uint32(d.cfg.Discovery.MinWait.Microseconds()) }
func (d *Dom) maxWaitUs() uint32 { return uint32(d.cfg.Discovery.MaxWait.Microseconds()) }

// phaseReady is step 3 of §4.4: broadcast DiscoverInitial, collect
// DiscoverAck responses until the listen window closes (the number
// collected is not capped), de-duplicate collisions, and ack the
// survivors.
func (d *Dom) phaseReady(ctx context.Context, domRandom uint32, offers wire.AddrList) ([]candidate, error) {
	init := wire.DomDiscoveryPayload{
		Kind: wire.KindDiscoverInitial,
		DiscoverInitial: wire.DiscoverInitialBody{
			Random: domRandom, MinWaitUs: d.minWaitUs(), MaxWaitUs: d.maxWaitUs(), Offers: offers,
		},
	}
	if err := d.sendTo(ctx, wire.AddrUnassigned, init); err != nil {
		return nil, err
	}

	window, cancel := context.WithTimeout(ctx, d.cfg.Discovery.MaxWait)
	defer cancel()

	offered := make(map[wire.Addr]bool, len(offers.Items))
	for _, a := range offers.Items {
		offered[a] = true
	}

	seen := make(map[wire.Addr]uint32)   // addr -> sub_random, first claimant
	collided := make(map[wire.Addr]bool) // addr claimed more than once

	for {
		src, p, err := d.recv(window)
		if err != nil {
			if window.Err() != nil {
				break // listen window closed
			}
			continue // malformed or misaddressed frame; keep listening
		}
		if p.Kind != wire.KindDiscoverAck {
			p.free()
			continue
		}
		ack := p.DiscoverAck
		p.free()
		if ack.OwnID != src || !offered[ack.OwnID] {
			if cos.Rom.V(3, cos.ModDisc) {
				nlog.Infof("discover(dom): ready phase rejects %+v from %d", ack, src)
			}
			continue
		}
		if wire.Checksum(ack.OwnID, domRandom, ack.OwnRandom) != ack.Checksum {
			if cos.Rom.V(3, cos.ModDisc) {
				nlog.Infof("discover(dom): checksum mismatch for %d", ack.OwnID)
			}
			continue
		}
		if _, dup := seen[ack.OwnID]; dup {
			collided[ack.OwnID] = true
			continue
		}
		seen[ack.OwnID] = ack.OwnRandom
	}

	var ready []candidate
	for addr, subRandom := range seen {
		if collided[addr] {
			continue
		}
		ackAck := wire.DomDiscoveryPayload{
			Kind: wire.KindDiscoverAckAck,
			DiscoverAckAck: wire.DiscoverAckAckBody{
				OwnID: addr, OwnRandom: domRandom, Checksum: wire.Checksum(addr, domRandom, subRandom),
			},
		}
		if err := d.sendTo(ctx, addr, ackAck); err != nil {
			return nil, err
		}
		ready = append(ready, candidate{addr: addr})
	}
	return ready, nil
}

// phaseDoublePing implements both the Steady and Go phases: ping each
// candidate in turn and require two valid PingAcks within the response
// window for it to advance.
func (d *Dom) phaseDoublePing(ctx context.Context, in []candidate) ([]candidate, error) {
	var advanced []candidate
	for _, c := range in {
		random := d.rng.Uint32()
		req := wire.DomDiscoveryPayload{
			Kind:    wire.KindPingReq,
			PingReq: wire.PingReqBody{Random: random, MinWaitUs: d.minWaitUs(), MaxWaitUs: d.maxWaitUs()},
		}
		if err := d.sendTo(ctx, c.addr, req); err != nil {
			return nil, err
		}

		window, cancel := context.WithTimeout(ctx, d.cfg.Discovery.MaxWait)
		acks := 0
		for acks < 2 {
			src, p, err := d.recv(window)
			if err != nil {
				if window.Err() != nil {
					break
				}
				continue
			}
			if p.Kind != wire.KindPingAck || src != c.addr {
				p.free()
				continue
			}
			ack := p.PingAck
			p.free()
			if wire.Checksum(c.addr, random, ack.OwnRandom) != ack.Checksum {
				continue
			}
			acks++
		}
		cancel()
		if acks >= 2 {
			advanced = append(advanced, c)
		}
	}
	return advanced, nil
}

func (d *Dom) sendTo(ctx context.Context, dst wire.Addr, payload wire.DomDiscoveryPayload) error {
	view, err := wire.SlabEncode(d.pool, payload.AppendMsg)
	if err != nil {
		return err
	}
	msg := wire.LineMessage{
		Hdr: wire.LineMessageHeader{Dst: wire.AddrPort{Addr: wire.Local(dst), Port: wire.PortDiscovery}},
		Msg: view,
	}
	return d.port.Send(ctx, msg)
}

// recvResult is the Sub payload plus a free func, since the inbox
// message's view owns a slab reference the caller must release.
type recvResult struct {
	wire.SubDiscoveryPayload
	raw slab.View
}

func (r recvResult) free() { r.raw.Free() }

func (d *Dom) recv(ctx context.Context) (wire.Addr, recvResult, error) {
	msg, err := d.port.Recv(ctx)
	if err != nil {
		return 0, recvResult{}, err
	}
	src, ok := msg.Hdr.Src.Addr.AsLocal()
	if !ok {
		msg.Msg.Free()
		return 0, recvResult{}, ErrBadAddressing
	}
	p, _, err := wire.ReadSubDiscoveryPayload(msg.Msg.Bytes())
	if err != nil {
		msg.Msg.Free()
		return 0, recvResult{}, err
	}
	return src, recvResult{SubDiscoveryPayload: p, raw: msg.Msg}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func sleepCtxErr(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
