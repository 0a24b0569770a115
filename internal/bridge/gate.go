package bridge

import "sync/atomic"

// ResolveGate flags that error recovery is rewriting widget state. While
// held, value reports must not unlock the Next button and the watchdog must
// not count the quiet period as a stall.
type ResolveGate struct {
	held atomic.Bool
}

// Hold marks recovery in progress.
func (g *ResolveGate) Hold() { g.held.Store(true) }

// Release clears the flag.
func (g *ResolveGate) Release() { g.held.Store(false) }

// Held reports whether recovery currently owns widget state.
func (g *ResolveGate) Held() bool { return g.held.Load() }
