package market

import "sync/atomic"

// guard is the engine-wide "operation in progress" flag. A nested call made
// by a collaborator while an operation holds the flag fails fast instead of
// waiting.
type guard struct {
	busy atomic.Bool
}

func (g *guard) enter() bool { return g.busy.CompareAndSwap(false, true) }

func (g *guard) exit() { g.busy.Store(false) }
