// Package klog is the kernel's leveled log wrapper. It replaces biscuit's
// ad-hoc fmt.Printf calls with a single chokepoint that every subsystem
// writes through, backed by a mutex-guarded ring buffer (internal/circbuf)
// so that the D_STAT and D_PROF debug devices (defs/device.go) can dump
// recent log history.
package klog

import (
	"fmt"
	"time"

	"github.com/chronix-os/chronix/internal/circbuf"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "?"
	}
}

// ring backs the D_STAT/D_PROF devices' "recent kernel log" dump. 64KiB
// matches biscuit's console scrollback sizing.
var ring = circbuf.MkCircbuf(64 * 1024)

// Min suppresses any record below this level; defaults to Info so Debugf
// calls are silent unless a boot.yaml sets log.level: debug.
var Min = LevelInfo

func Debugf(format string, args ...any) { emit(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { emit(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { emit(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { emit(LevelError, format, args...) }

func emit(lvl Level, format string, args ...any) {
	if lvl < Min {
		return
	}
	line := fmt.Sprintf("[%s] %s %s\n", time.Now().UTC().Format(time.RFC3339Nano), lvl, fmt.Sprintf(format, args...))
	ring.Write([]byte(line))
}

// Dump returns the ring buffer's current contents, oldest first, for the
// D_STAT/D_PROF devices.
func Dump() []byte {
	return ring.Snapshot()
}

// SetLevel changes the minimum emitted level, called from internal/kconfig
// after boot.yaml is parsed.
func SetLevel(l Level) { Min = l }
