// Package nlog provides leveled, low-allocation logging for the bus core.
//
// The API shape (Infoln/Warningln/Errorln, *Depth variants) mirrors the
// logging surface the rest of this codebase is written against; production
// code never calls the standard library logger directly.
package nlog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var std = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)

// verbosity is the global log level: 0 (quiet) through 5 (firehose).
// Set via SetLevel; read by cos.Rom.V.
var verbosity atomic.Int32

func SetLevel(v int) { verbosity.Store(int32(v)) }
func Level() int     { return int(verbosity.Load()) }

func Infoln(v ...any)    { output("I", fmt.Sprintln(v...)) }
func Warningln(v ...any) { output("W", fmt.Sprintln(v...)) }
func Errorln(v ...any)   { output("E", fmt.Sprintln(v...)) }

func Infof(f string, v ...any)    { output("I", fmt.Sprintf(f, v...)+"\n") }
func Warningf(f string, v ...any) { output("W", fmt.Sprintf(f, v...)+"\n") }
func Errorf(f string, v ...any)   { output("E", fmt.Sprintf(f, v...)+"\n") }

// *Depth variants exist for call-site symmetry with the rest of the
// codebase; this logger does not walk frames, so depth is accepted and
// ignored rather than threaded through unused.
func InfoDepth(_ int, v ...any)    { Infoln(v...) }
func WarningDepth(_ int, v ...any) { Warningln(v...) }
func ErrorDepth(_ int, v ...any)   { Errorln(v...) }

func output(lvl, msg string) {
	std.Output(3, lvl+" "+msg) //nolint:errcheck
}
