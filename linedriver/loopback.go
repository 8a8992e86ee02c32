package linedriver

import "github.com/anachro-go/rs485bus/dispatch"

// Loopback is an in-memory bus medium for tests: every frame a node
// transmits is delivered to every other attached node's IngestRaw,
// modeling the multi-drop property of a real RS-485 bus without any
// hardware. It replaces the UARTE-backed driver spec.md explicitly
// leaves out of scope.
type Loopback struct {
	nodes []*dispatch.Dispatcher
}

// NewLoopback attaches the given dispatchers to a shared medium.
func NewLoopback(nodes ...*dispatch.Dispatcher) *Loopback {
	return &Loopback{nodes: nodes}
}

// Tick drains every node's outgoing queues, high priority first, and
// relays each frame to every other node. It returns the number of
// frames relayed, for tests that want to assert progress.
func (l *Loopback) Tick() int {
	n := 0
	for i, node := range l.nodes {
		for {
			data, box, ok := node.PopOutgoingHi()
			if !ok {
				break
			}
			l.deliver(i, data)
			box.Free()
			n++
		}
		for {
			data, box, ok := node.PopOutgoingLo()
			if !ok {
				break
			}
			l.deliver(i, data)
			box.Free()
			n++
		}
	}
	return n
}

func (l *Loopback) deliver(from int, frame []byte) {
	cp := append([]byte(nil), frame...)
	for j, node := range l.nodes {
		if j == from {
			continue
		}
		_ = node.IngestRaw(cp)
	}
}
