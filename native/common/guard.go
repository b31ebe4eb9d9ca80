package common

import (
	"errors"
	"sync/atomic"
)

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

// PauseView exposes the governance pause switches consulted before any
// mutating module operation.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the named module is paused. A nil view or
// empty module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// EntryGuard is the exclusive latch taken by every mutating entry point.
// External collaborators (adaptors, oracles, token hooks) may call back into
// the module before the top-level operation returns; a nested acquisition
// fails fast with ErrReentrantCall instead of deadlocking.
type EntryGuard struct {
	locked atomic.Bool
}

// Enter acquires the latch and returns the release function. Callers must
// defer the release so it runs on every exit path.
func (g *EntryGuard) Enter() (func(), error) {
	if !g.locked.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { g.locked.Store(false) }, nil
}

// Held reports whether the latch is currently taken.
func (g *EntryGuard) Held() bool {
	return g.locked.Load()
}
