// Package dispatch is the bus core's routing layer: a fixed port
// table plus the bounded queues that move frames between the line
// driver and registered ports, one port per protocol (discovery,
// token, and any application-level ports above them).
package dispatch

import (
	"sync/atomic"

	"github.com/anachro-go/rs485bus/config"
	"github.com/anachro-go/rs485bus/internal/cos"
	"github.com/anachro-go/rs485bus/internal/debug"
	"github.com/anachro-go/rs485bus/internal/nlog"
	"github.com/anachro-go/rs485bus/slab"
	"github.com/anachro-go/rs485bus/wire"
)

// Role distinguishes the addressing rules a Dispatcher enforces on
// incoming frames: Dom only ever hears from Subs, a Sub only ever
// hears from Dom.
type Role int

const (
	RoleDom Role = iota
	RoleSub
)

// rawFrame is a COBS-encoded, length-delimited byte sequence moving
// between Dispatch and the line driver.
type rawFrame struct {
	box  *slab.OwnedBox
	data []byte
}

// Dispatcher owns the port table and the four queues from spec.md's
// dispatch core: to_io / to_io_hi (outgoing, framed and ready for the
// line), to_dispatch (incoming, still COBS-encoded), and shame (the
// overflow fallback used when a frame's outgoing queue is full).
type Dispatcher struct {
	role      Role
	pool      *slab.Pool
	table     *PortTable
	localAddr atomic.Uint32 // wire.Addr, set by the discovery layer

	toIO       chan rawFrame
	toIOHi     chan rawFrame
	toDispatch chan rawFrame
	shame      chan rawFrame

	sendAuth  atomic.Bool
	flushAuth atomic.Bool
	emptyMark atomic.Bool

	framesIn    atomic.Int64
	framesOut   atomic.Int64
	framesDrop  atomic.Int64
	shameEvents atomic.Int64
}

// New builds a Dispatcher sized from cfg.Dispatch, allocating chunks
// for outgoing/incoming frames out of pool.
func New(cfg *config.BusConfig, pool *slab.Pool, role Role) *Dispatcher {
	d := &Dispatcher{
		role:       role,
		pool:       pool,
		table:      newPortTable(cfg.Dispatch.Ports, cfg.Dispatch.PortInbox, cfg.Dispatch.PortOutbox),
		toIO:       make(chan rawFrame, cfg.Dispatch.ToIO),
		toIOHi:     make(chan rawFrame, cfg.Dispatch.ToIOHi),
		toDispatch: make(chan rawFrame, cfg.Dispatch.ToDispatch),
		shame:      make(chan rawFrame, cfg.Dispatch.Shame),
	}
	if role == RoleDom {
		d.localAddr.Store(uint32(wire.AddrDom))
	} else {
		d.localAddr.Store(uint32(wire.AddrUnassigned))
	}
	return d
}

// SetLocalAddr updates the node's own address; Sub calls this once
// discovery assigns it a real address.
func (d *Dispatcher) SetLocalAddr(a wire.Addr) { d.localAddr.Store(uint32(a)) }

func (d *Dispatcher) LocalAddr() wire.Addr { return wire.Addr(d.localAddr.Load()) }

// RegisterPort claims a port-table slot for port.
func (d *Dispatcher) RegisterPort(port uint16) (*PortHandle, error) {
	return d.table.register(port)
}

// Ports snapshots the port table's current occupancy, for diagnostics.
func (d *Dispatcher) Ports() []PortStat { return d.table.Ports() }

// Pool exposes the chunk pool backing this dispatcher's frame traffic so
// protocol layers (discover, token) can serialize their own outgoing
// payloads into slab-allocated memory rather than the Go heap.
func (d *Dispatcher) Pool() *slab.Pool { return d.pool }

// Role reports whether this dispatcher is running as the Dom or a Sub,
// for diagnostics.
func (d *Dispatcher) Role() Role { return d.role }

// SetSendAuth sets whether regular (non-priority) outgoing frames may
// flow to to_io. The Sub-side token loop sets it while holding the
// token and clears it when the window ends.
func (d *Dispatcher) SetSendAuth(v bool) { d.sendAuth.Store(v) }

// SetFlushAuth authorizes regular (non-priority) ports to drain to
// to_io exactly as SetSendAuth does; a pass treats the node as
// authorized when either flag is set. High-priority ports drain
// regardless of both flags.
func (d *Dispatcher) SetFlushAuth(v bool) { d.flushAuth.Store(v) }

// EmptyMark reports whether the last ProcessMessages pass handed no
// outgoing frame from the ports it was allowed to drain to to_io or
// to_io_hi (ports skipped for lack of send authorization are not
// looked at), the signal the Sub-side token loop polls to decide
// whether it can release the token early.
func (d *Dispatcher) EmptyMark() bool { return d.emptyMark.Load() }

// ClearEmptyMark resets the empty mark, per spec.md's "on grant: clear the
// empty mark, authorize one send" sequencing: a Sub must not read a stale
// mark computed by the ProcessMessages pass that ran before its token
// window opened.
func (d *Dispatcher) ClearEmptyMark() { d.emptyMark.Store(false) }

// FramesIn, FramesOut, FramesDropped, and ShameEvents feed telemetry.
func (d *Dispatcher) FramesIn() int64      { return d.framesIn.Load() }
func (d *Dispatcher) FramesOut() int64     { return d.framesOut.Load() }
func (d *Dispatcher) FramesDropped() int64 { return d.framesDrop.Load() }
func (d *Dispatcher) ShameEvents() int64   { return d.shameEvents.Load() }

// QueueDepths snapshots the four queue occupancies for telemetry. Like
// slab.Pool.Free, these are point-in-time reads, not synchronization.
func (d *Dispatcher) QueueDepths() (toIO, toIOHi, toDispatch, shame int) {
	return len(d.toIO), len(d.toIOHi), len(d.toDispatch), len(d.shame)
}

// IngestRaw hands the line driver's received byte sequence to
// Dispatch for decoding on the next ProcessMessages pass. frame is
// copied into a slab chunk so the caller's buffer can be reused
// immediately.
func (d *Dispatcher) IngestRaw(frame []byte) error {
	box, err := d.pool.AllocBox()
	if err != nil {
		d.framesDrop.Add(1)
		return err
	}
	n := copy(box.Bytes(), frame)
	rf := rawFrame{box: box, data: box.Bytes()[:n]}
	select {
	case d.toDispatch <- rf:
		return nil
	default:
		// to_dispatch is a protocol bug (the line runs far faster than
		// dispatch can drain) rather than an expected back-pressure
		// case, so an overrun is dropped and counted rather than
		// parked in shame, which is reserved for the outgoing path.
		box.Free()
		d.framesDrop.Add(1)
		return nil
	}
}

// validateIncoming enforces the addressing invariant from spec.md
// §8: a Sub only accepts frames from Dom, and Dom never accepts a
// frame claiming to be from itself.
func (d *Dispatcher) validateIncoming(hdr wire.LineMessageHeader) error {
	src, ok := hdr.Src.Addr.AsLocal()
	if !ok {
		return ErrBadSource
	}
	dst, ok := hdr.Dst.Addr.AsLocal()
	if !ok {
		return ErrBadDestination
	}
	switch d.role {
	case RoleSub:
		if src != wire.AddrDom {
			return ErrBadSource
		}
		local := d.LocalAddr()
		if dst != local && dst != wire.AddrUnassigned {
			return ErrBadDestination
		}
	case RoleDom:
		if src == wire.AddrDom || src == wire.AddrUnassigned {
			return ErrBadSource
		}
		if dst != wire.AddrDom && dst != wire.AddrUnassigned {
			return ErrBadDestination
		}
	}
	return nil
}

// processOneIncoming decodes one previously-ingested raw frame,
// validates its addressing, and routes it into the destination port's
// inbox. Decoding happens in place inside rf.box's own chunk (COBS
// decode never grows the data, so the output pointer never overtakes
// the input read pointer); once a destination port is found, rf.box
// is promoted to a SharedArc and the payload view rerooted into it so
// the routed message keeps the chunk alive independently of this
// function's own handle. Frames that get dropped along the way simply
// free rf.box directly.
func (d *Dispatcher) processOneIncoming(rf rawFrame) {
	msg, err := wire.DecodeFrame(rf.box.Bytes()[:0], rf.data)
	if err != nil {
		nlog.Warningf("dispatch: decode frame: %v", err)
		rf.box.Free()
		d.framesDrop.Add(1)
		return
	}
	if err := d.validateIncoming(msg.Hdr); err != nil {
		if cos.Rom.V(4, cos.ModDisp) {
			nlog.Infof("dispatch: reject frame: %v (hdr=%+v)", err, msg.Hdr)
		}
		rf.box.Free()
		d.framesDrop.Add(1)
		return
	}

	idx, ok := d.table.findByPort(msg.Hdr.Dst.Port)
	if !ok {
		if cos.Rom.V(3, cos.ModDisp) {
			nlog.Infof("dispatch: %v port=%d", ErrNoSuchPort, msg.Hdr.Dst.Port)
		}
		rf.box.Free()
		d.framesDrop.Add(1)
		return
	}

	arc := rf.box.IntoArc()
	key := arc.RerooterKey()
	rooted, err := msg.Reroot(key)
	arc.Free() // drop our own handle; rooted's owned view holds the chunk alive
	if err != nil {
		debug.Assert(false, "dispatch: reroot of a frame decoded into its own chunk cannot fail: ", err)
		d.framesDrop.Add(1)
		return
	}
	d.framesIn.Add(1)

	slot := &d.table.slots[idx]
	select {
	case slot.inbox <- rooted:
	default:
		debug.Assert(false, "dispatch: port inbox full, port=", msg.Hdr.Dst.Port)
		rooted.Msg.Free()
		d.framesDrop.Add(1)
	}
}

// processOnePortOutgoing pulls at most one queued message off port's
// outbox, frames it, and routes it to to_io_hi (control traffic) or
// to_io, falling back to shame if that queue is full and dropping the
// frame if shame is full too.
func (d *Dispatcher) processOnePortOutgoing(idx int, highPriority bool) {
	slot := &d.table.slots[idx]
	var msg wire.LineMessage
	select {
	case msg = <-slot.outbox:
	default:
		return
	}

	port, ok := slot.port()
	if !ok {
		msg.Msg.Free()
		return // port was unregistered between the select and now
	}
	msg.Hdr.Src.Addr = wire.Local(d.LocalAddr())
	msg.Hdr.Src.Port = port

	box, err := d.pool.AllocBox()
	if err != nil {
		msg.Msg.Free()
		d.framesDrop.Add(1)
		return
	}
	// Serialization happens in two slab chunks, never the heap: scratch
	// holds the pre-COBS msgp encoding, box holds the COBS-framed result.
	// The two cannot be the same chunk: CobsEncode can insert extra code
	// bytes as it runs, so its write pointer can overtake a read pointer
	// into the same backing array.
	scratchBox, err := d.pool.AllocBox()
	if err != nil {
		box.Free()
		msg.Msg.Free()
		d.framesDrop.Add(1)
		return
	}
	encoded, err := wire.EncodeFrame(box.Bytes()[:0], scratchBox.Bytes()[:0], msg)
	scratchBox.Free()
	msg.Msg.Free()
	if err != nil {
		nlog.Warningf("dispatch: encode outgoing frame: %v", err)
		box.Free()
		d.framesDrop.Add(1)
		return
	}
	rf := rawFrame{box: box, data: encoded}

	dst := d.toIO
	if highPriority {
		dst = d.toIOHi
	}
	select {
	case dst <- rf:
		d.framesOut.Add(1)
	default:
		select {
		case d.shame <- rf:
			d.shameEvents.Add(1)
		default:
			rf.box.Free()
			d.framesDrop.Add(1)
		}
	}
}

// ProcessMessages runs one pass of the dispatch loop: drain
// to_dispatch into port inboxes, retry anything parked in shame, then
// walk the port table ascending pulling at most one outgoing message
// per port. highPriorityPorts names ports (by number) whose traffic
// always bypasses SetSendAuth gating, e.g. discovery and token.
func (d *Dispatcher) ProcessMessages(highPriorityPorts map[uint16]bool) {
drainDispatch:
	for {
		select {
		case rf := <-d.toDispatch:
			d.processOneIncoming(rf)
		default:
			break drainDispatch
		}
	}

	// shame holds already-framed outgoing frames that overflowed their
	// outgoing queue (to_io_hi or to_io); retry them first, into to_io_hi
	// and then to_io, so they have priority over whatever this pass's
	// port sweep produces.
drainShame:
	for {
		select {
		case rf := <-d.shame:
			select {
			case d.toIOHi <- rf:
			default:
				select {
				case d.toIO <- rf:
				default:
					rf.box.Free()
					d.framesDrop.Add(1)
				}
			}
		default:
			break drainShame
		}
	}

	// own_addr == unassigned => no outgoing frames are consumed
	// (spec.md §4.3); a Sub must provisionally claim an address
	// before it may transmit even a discovery reply.
	if d.role == RoleSub && d.LocalAddr() == wire.AddrUnassigned {
		d.emptyMark.Store(true)
		return
	}

	authed := d.sendAuth.Load() || d.flushAuth.Load()
	empty := true
	for i := range d.table.slots {
		port, ok := d.table.slots[i].port()
		if !ok {
			continue
		}
		hi := highPriorityPorts[port]
		if !hi && !authed {
			// regular traffic waits for a granted send window; control
			// ports (discovery, token) always drain.
			continue
		}
		before := d.framesOut.Load()
		d.processOnePortOutgoing(i, hi)
		if d.framesOut.Load() != before {
			empty = false
		}
	}
	d.emptyMark.Store(empty)
}

// PopOutgoingHi / PopOutgoingLo / PushIncoming are the line driver's
// side of the queue boundary; see linedriver.Pump.
func (d *Dispatcher) PopOutgoingHi() ([]byte, *slab.OwnedBox, bool) {
	select {
	case rf := <-d.toIOHi:
		return rf.data, rf.box, true
	default:
		return nil, nil, false
	}
}

func (d *Dispatcher) PopOutgoingLo() ([]byte, *slab.OwnedBox, bool) {
	select {
	case rf := <-d.toIO:
		return rf.data, rf.box, true
	default:
		return nil, nil, false
	}
}
