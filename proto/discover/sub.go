package discover

import (
	"context"
	"time"

	"github.com/anachro-go/rs485bus/dispatch"
	"github.com/anachro-go/rs485bus/internal/cos"
	"github.com/anachro-go/rs485bus/internal/mono"
	"github.com/anachro-go/rs485bus/internal/nlog"
	"github.com/anachro-go/rs485bus/rng"
	"github.com/anachro-go/rs485bus/slab"
	"github.com/anachro-go/rs485bus/wire"
)

// Sub runs the Sub side of discovery: §4.5's obtain_addr loop, starting
// from own_addr = unassigned and retrying from step 1 on any timeout.
type Sub struct {
	dispatcher *dispatch.Dispatcher
	port       *dispatch.PortHandle
	rng        rng.RNG
	clock      mono.Clock
}

// NewSub builds a Sub-side discovery task. dispatcher is the same
// Dispatcher port was registered against: Sub needs it to update its
// own provisional and committed address as the handshake progresses.
func NewSub(dispatcher *dispatch.Dispatcher, port *dispatch.PortHandle, r rng.RNG, clock mono.Clock) *Sub {
	return &Sub{dispatcher: dispatcher, port: port, rng: r, clock: clock}
}

// ObtainAddr runs obtain_addr: it blocks until an address is assigned
// and double-ping-confirmed, or ctx is cancelled.
func (s *Sub) ObtainAddr(ctx context.Context) (wire.Addr, error) {
	for {
		addr, err := s.attemptCycle(ctx)
		if err == nil {
			return addr, nil
		}
		if ctx.Err() != nil {
			return 0, err
		}
		if cos.Rom.V(2, cos.ModDisc) {
			nlog.Infof("discover(sub): cycle failed, restarting: %v", err)
		}
	}
}

func (s *Sub) attemptCycle(ctx context.Context) (wire.Addr, error) {
	s.dispatcher.SetLocalAddr(wire.AddrUnassigned)
	s.dispatcher.SetFlushAuth(true)
	sleepCtx(ctx, SettleSleep)
	s.dispatcher.SetFlushAuth(false)

	initCtx, cancel := context.WithTimeout(ctx, SubInitialWait)
	init, err := s.waitDiscoverInitial(initCtx)
	cancel()
	if err != nil {
		return 0, err
	}
	if len(init.Offers.Items) == 0 {
		return 0, ErrNoOffers
	}

	pick := s.rng.Range(0, uint32(len(init.Offers.Items)))
	addr := init.Offers.Items[pick]
	delay := s.rng.Range(init.MinWaitUs, init.MaxWaitUs)
	maxDelay := init.MaxWaitUs
	subRandom := s.rng.Uint32()

	s.dispatcher.SetLocalAddr(addr)
	sleepCtx(ctx, time.Duration(delay)*time.Microsecond)

	ack := wire.SubDiscoveryPayload{
		Kind: wire.KindDiscoverAck,
		DiscoverAck: wire.DiscoverAckBody{
			OwnID: addr, Checksum: wire.Checksum(addr, init.Random, subRandom), OwnRandom: subRandom,
		},
	}
	if err := s.send(ctx, wire.AddrDom, ack); err != nil {
		return 0, err
	}

	waitUs := SubBroadAckAckWaitUs + (maxDelay - delay)
	ackAckCtx, cancel2 := context.WithTimeout(ctx, time.Duration(waitUs)*time.Microsecond)
	err = s.waitDiscoverAckAck(ackAckCtx, addr, subRandom)
	cancel2()
	if err != nil {
		return 0, err
	}

	if err := s.respondToPings(ctx, addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// waitDiscoverInitial discards anything that isn't a DiscoverInitial:
// a freshly-unassigned Sub may still see stray PingReq/DiscoverAckAck
// traffic addressed to the broadcast address from a round it wasn't
// part of.
func (s *Sub) waitDiscoverInitial(ctx context.Context) (wire.DiscoverInitialBody, error) {
	for {
		p, err := s.recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return wire.DiscoverInitialBody{}, err
			}
			continue
		}
		if p.Kind != wire.KindDiscoverInitial {
			p.free()
			continue
		}
		body := p.DiscoverInitial
		p.free()
		return body, nil
	}
}

// waitDiscoverAckAck: a mismatched address or failed checksum just
// keeps waiting per §4.5 step 7 (it may belong to a colliding peer's
// retry), only the context deadline ends the wait.
func (s *Sub) waitDiscoverAckAck(ctx context.Context, addr wire.Addr, subRandom uint32) error {
	for {
		p, err := s.recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			continue
		}
		if p.Kind != wire.KindDiscoverAckAck {
			p.free()
			continue
		}
		body := p.DiscoverAckAck
		p.free()
		if body.OwnID != addr {
			if cos.Rom.V(3, cos.ModDisc) {
				nlog.Infof("discover(sub): DiscoverAckAck for %d, we are %d", body.OwnID, addr)
			}
			continue
		}
		if wire.Checksum(addr, body.OwnRandom, subRandom) != body.Checksum {
			if cos.Rom.V(3, cos.ModDisc) {
				nlog.Infof("discover(sub): checksum mismatch in DiscoverAckAck for %d", addr)
			}
			continue
		}
		return nil
	}
}

// respondToPings answers up to two PingReq frames, one per phase, each
// with two PingAcks carrying fresh OwnRandom values, jittering each
// reply within the request's own wait window, and reports success only
// once both requests have been answered.
func (s *Sub) respondToPings(ctx context.Context, addr wire.Addr) error {
	for i := 0; i < 2; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, PingWindow)
		req, err := s.waitPingReq(pingCtx)
		cancel()
		if err != nil {
			return err
		}

		jitter := s.rng.Range(req.MinWaitUs, req.MaxWaitUs)
		sleepCtx(ctx, time.Duration(jitter)*time.Microsecond)

		for j := 0; j < 2; j++ {
			ownRandom := s.rng.Uint32()
			ack := wire.SubDiscoveryPayload{
				Kind: wire.KindPingAck,
				PingAck: wire.PingAckBody{
					Checksum: wire.Checksum(addr, req.Random, ownRandom), OwnRandom: ownRandom,
				},
			}
			if err := s.send(ctx, wire.AddrDom, ack); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sub) waitPingReq(ctx context.Context) (wire.PingReqBody, error) {
	for {
		p, err := s.recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return wire.PingReqBody{}, err
			}
			continue
		}
		if p.Kind != wire.KindPingReq {
			p.free()
			continue
		}
		body := p.PingReq
		p.free()
		return body, nil
	}
}

func (s *Sub) send(ctx context.Context, dst wire.Addr, payload wire.SubDiscoveryPayload) error {
	view, err := wire.SlabEncode(s.dispatcher.Pool(), func(b []byte) ([]byte, error) {
		return payload.AppendMsg(b), nil
	})
	if err != nil {
		return err
	}
	msg := wire.LineMessage{
		Hdr: wire.LineMessageHeader{Dst: wire.AddrPort{Addr: wire.Local(dst), Port: wire.PortDiscovery}},
		Msg: view,
	}
	return s.port.Send(ctx, msg)
}

// domRecvResult mirrors discover.recvResult on the Dom side, for the
// payload type Sub receives.
type domRecvResult struct {
	wire.DomDiscoveryPayload
	raw slab.View
}

func (r domRecvResult) free() { r.raw.Free() }

// recv reads one message from the discovery port inbox. Addressing
// (Sub only ever hears from Dom) is already enforced by Dispatch's
// validateIncoming, so no source check is needed here.
func (s *Sub) recv(ctx context.Context) (domRecvResult, error) {
	msg, err := s.port.Recv(ctx)
	if err != nil {
		return domRecvResult{}, err
	}
	p, _, err := wire.ReadDomDiscoveryPayload(msg.Msg.Bytes())
	if err != nil {
		msg.Msg.Free()
		return domRecvResult{}, err
	}
	return domRecvResult{DomDiscoveryPayload: p, raw: msg.Msg}, nil
}
