package token

import (
	"context"
	"time"

	"github.com/anachro-go/rs485bus/dispatch"
	"github.com/anachro-go/rs485bus/internal/cos"
	"github.com/anachro-go/rs485bus/internal/nlog"
	"github.com/anachro-go/rs485bus/wire"
)

// Sub runs the Sub side of the token loop: wait for a grant, spend it
// authorizing sends until the queue drains or the window closes, then
// release it back to Dom.
type Sub struct {
	dispatcher *dispatch.Dispatcher
	port       *dispatch.PortHandle

	missed int
}

// NewSub builds a Sub-side token task. dispatcher is the same
// Dispatcher port was registered against: Sub reads its own committed
// address from it and authorizes sends through it.
func NewSub(dispatcher *dispatch.Dispatcher, port *dispatch.PortHandle) *Sub {
	return &Sub{dispatcher: dispatcher, port: port}
}

// RunRound waits for one TokenGrant (if own_addr is committed) and, on
// receipt, spends it and releases it. Callers loop RunRound forever as
// one of the cooperative tasks described in spec.md §5. A nil return
// with no grant observed just means the window elapsed with nothing to
// do (not committed yet, or the Dom hasn't reached this address this
// round); ErrBusDead is fatal and callers should not retry it.
func (s *Sub) RunRound(ctx context.Context) error {
	if s.dispatcher.LocalAddr() == wire.AddrUnassigned {
		sleepCtx(ctx, SubRetryPause)
		return nil
	}

	window, cancel := context.WithTimeout(ctx, SubGrantWait)
	grant, err := s.recv(window)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.missed++
		if cos.Rom.V(2, cos.ModTok) {
			nlog.Warningf("token(sub): missed grant %d/%d", s.missed, MaxMissedGrants)
		}
		if s.missed >= MaxMissedGrants {
			return ErrBusDead
		}
		return nil
	}
	s.missed = 0

	s.spend(ctx, grant.MaxTimeUs)

	return s.send(ctx, wire.SubTokenReleasePayload{Random: grant.Random})
}

// spend authorizes sends for up to half the grant's window, stopping
// early once the outgoing queue drains (the empty mark is observed).
func (s *Sub) spend(ctx context.Context, maxTimeUs uint32) {
	// Clear the empty mark before authorizing: it otherwise still holds
	// the previous ProcessMessages pass's verdict, computed while
	// sendAuth was false and every regular port was skipped, so it is
	// almost always stale-true and would make the very first check below
	// return before a single fresh pass has had a chance to send.
	s.dispatcher.ClearEmptyMark()
	s.dispatcher.SetSendAuth(true)
	defer s.dispatcher.SetSendAuth(false)

	half := time.Duration(maxTimeUs/2) * time.Microsecond
	tick := half / 4
	if tick <= 0 {
		return
	}

	deadline := time.NewTimer(half)
	defer deadline.Stop()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		if s.dispatcher.EmptyMark() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			s.dispatcher.SetSendAuth(true)
		}
	}
}

func (s *Sub) recv(ctx context.Context) (wire.DomTokenGrantPayload, error) {
	msg, err := s.port.Recv(ctx)
	if err != nil {
		return wire.DomTokenGrantPayload{}, err
	}
	defer msg.Msg.Free()
	p, _, err := wire.ReadDomTokenGrantPayload(msg.Msg.Bytes())
	if err != nil {
		return wire.DomTokenGrantPayload{}, err
	}
	return p, nil
}

func (s *Sub) send(ctx context.Context, payload wire.SubTokenReleasePayload) error {
	view, err := wire.SlabEncode(s.dispatcher.Pool(), func(b []byte) ([]byte, error) {
		return payload.AppendMsg(b), nil
	})
	if err != nil {
		return err
	}
	msg := wire.LineMessage{
		Hdr: wire.LineMessageHeader{Dst: wire.AddrPort{Addr: wire.Local(wire.AddrDom), Port: wire.PortToken}},
		Msg: view,
	}
	return s.port.Send(ctx, msg)
}
