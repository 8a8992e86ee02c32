// Package cos provides small low-level utilities shared across the bus
// core: sticky error values and module-tagged log verbosity checks.
/*
 * Copyright (c) 2024-2026, anachro-go. All rights reserved.
 */
package cos

import (
	"fmt"
	"sync/atomic"

	"github.com/anachro-go/rs485bus/internal/nlog"
)

// Module tags for Rom.V gating, one per log-verbosity-sensitive subsystem.
const (
	ModSlab = "slab"
	ModDisp = "dispatch"
	ModWire = "wire"
	ModDisc = "discover"
	ModTok  = "token"
)

// Rom ("run-time options module") gates verbose logging the same way
// across every package: `if cos.Rom.V(4, cos.ModDisp) { nlog.Infoln(...) }`.
var Rom rom

type rom struct{}

// V reports whether logging at the given level is enabled for module.
// The module argument is accepted but ignored: verbosity is a single
// global level, so every module is gated by the same threshold.
func (rom) V(level int, _ string) bool { return nlog.Level() >= level }

// ErrValue latches the first error written to it; subsequent Store calls
// only bump a counter, so a hot path can call Store unconditionally
// without clobbering the original failure or taking a lock.
type ErrValue struct {
	v   atomic.Value
	cnt atomic.Int64
}

func (e *ErrValue) Store(err error) {
	if e.cnt.Add(1) == 1 {
		e.v.Store(errBox{err})
	}
}

func (e *ErrValue) Err() error {
	x := e.v.Load()
	if x == nil {
		return nil
	}
	err := x.(errBox).err
	if cnt := e.cnt.Load(); cnt > 1 {
		return fmt.Errorf("%w (cnt=%d)", err, cnt)
	}
	return err
}

type errBox struct{ err error }
