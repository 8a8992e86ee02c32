// Package debug provides cheap invariant assertions that compile out of
// release builds. Build with -tags debug to enable them; see Assert.
package debug

import "github.com/anachro-go/rs485bus/internal/nlog"

// Enabled is flipped by the debug build tag (see on.go). Code may
// branch on it to skip expensive pre-assertion computation entirely.
var Enabled bool

// Assert panics with args if cond is false and debug assertions are
// compiled in. In release builds this is a no-op and cond's side effects
// (there should be none) are still evaluated since Go has no macros.
func Assert(cond bool, args ...any) {
	if !Enabled || cond {
		return
	}
	nlog.ErrorDepth(1, "assertion failed:", args)
	panic(assertionError{args})
}

// AssertNoErr is Assert(err == nil, err) with a friendlier message.
func AssertNoErr(err error) {
	if !Enabled || err == nil {
		return
	}
	nlog.ErrorDepth(1, "assertion failed:", err)
	panic(assertionError{[]any{err}})
}

type assertionError struct{ args []any }

func (a assertionError) Error() string { return "debug assertion failed" }
