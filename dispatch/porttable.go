package dispatch

import (
	"context"
	"sync/atomic"

	"github.com/anachro-go/rs485bus/wire"
)

// portSlot is one entry of the fixed-size port table: an atomically
// CAS'd port number (0 means unregistered) plus the bounded
// inbox/outbox a protocol goroutine reads from and writes to.
type portSlot struct {
	num    atomic.Uint32 // registered port number + 1, or 0 if free
	inbox  chan wire.LineMessage
	outbox chan wire.LineMessage
}

func (s *portSlot) port() (uint16, bool) {
	n := s.num.Load()
	if n == 0 {
		return 0, false
	}
	return uint16(n - 1), true
}

// PortTable is the fixed-size registry of logical ports Dispatch
// routes frames to and from. Its size (and each slot's inbox/outbox
// depth) comes from config.BusConfig.Dispatch.
type PortTable struct {
	slots    []portSlot
	inDepth  int
	outDepth int
}

func newPortTable(n, inDepth, outDepth int) *PortTable {
	t := &PortTable{slots: make([]portSlot, n), inDepth: inDepth, outDepth: outDepth}
	return t
}

// PortHandle is the caller-facing capability returned by
// RegisterPort: a bounded channel pair scoped to one port number.
type PortHandle struct {
	table *PortTable
	idx   int
	port  uint16
}

// register claims a free slot for port, or ErrPortInUse /
// ErrNoFreePort. Slots are scanned in ascending index order, which is
// also the order ProcessMessages visits them when draining outboxes.
func (t *PortTable) register(port uint16) (*PortHandle, error) {
	for i := range t.slots {
		if p, ok := t.slots[i].port(); ok && p == port {
			return nil, ErrPortInUse
		}
	}
	for i := range t.slots {
		if t.slots[i].num.CompareAndSwap(0, uint32(port)+1) {
			t.slots[i].inbox = make(chan wire.LineMessage, t.inDepth)
			t.slots[i].outbox = make(chan wire.LineMessage, t.outDepth)
			return &PortHandle{table: t, idx: i, port: port}, nil
		}
	}
	return nil, ErrNoFreePort
}

// Close unregisters the port, making its slot available for reuse.
// Any goroutine blocked sending to or receiving from this handle's
// channels must stop using it first; Close does not interrupt them.
func (h *PortHandle) Close() {
	s := &h.table.slots[h.idx]
	s.num.Store(0)
}

func (h *PortHandle) Port() uint16 { return h.port }

// Send enqueues msg for Dispatch to frame and transmit. It blocks
// until the outbox has room or ctx is done.
func (h *PortHandle) Send(ctx context.Context, msg wire.LineMessage) error {
	s := &h.table.slots[h.idx]
	select {
	case s.outbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks until a message addressed to this port has been routed
// in by Dispatch, or ctx is done.
func (h *PortHandle) Recv(ctx context.Context) (wire.LineMessage, error) {
	s := &h.table.slots[h.idx]
	select {
	case m := <-s.inbox:
		return m, nil
	case <-ctx.Done():
		return wire.LineMessage{}, ctx.Err()
	}
}

// findByPort returns the slot index registered for port, if any.
func (t *PortTable) findByPort(port uint16) (int, bool) {
	for i := range t.slots {
		if p, ok := t.slots[i].port(); ok && p == port {
			return i, true
		}
	}
	return 0, false
}

// PortStat is a point-in-time snapshot of one registered port's queue
// occupancy, for diagnostics.
type PortStat struct {
	Port      uint16 `json:"port"`
	InboxLen  int    `json:"inbox_len"`
	OutboxLen int    `json:"outbox_len"`
}

// Ports snapshots every currently registered port. Like Dispatcher's
// QueueDepths, this is a point-in-time read, not synchronization.
func (t *PortTable) Ports() []PortStat {
	var out []PortStat
	for i := range t.slots {
		p, ok := t.slots[i].port()
		if !ok {
			continue
		}
		out = append(out, PortStat{Port: p, InboxLen: len(t.slots[i].inbox), OutboxLen: len(t.slots[i].outbox)})
	}
	return out
}
