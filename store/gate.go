package store

import "sync"

// WriteGate coordinates ordinary mutations with whole-store operations
//
// Ordinary mutations pass through the gate shared, and so run concurrently with each
// other. Whole-store operations (snapshot capture, restore, import) pass through it
// exclusively. A waiting exclusive holder blocks new shared holders, so a capture only
// waits for the mutations already in flight.
type WriteGate struct {
	lock sync.RWMutex
}

// NewWriteGate define a new write gate
func NewWriteGate() *WriteGate {
	return &WriteGate{}
}

/*
RunShared run a mutation while holding the gate shared

	@param fn func() error - the mutation
*/
func (g *WriteGate) RunShared(fn func() error) error {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return fn()
}

/*
RunExclusive run a whole-store operation while holding the gate exclusively

	@param fn func() error - the operation
*/
func (g *WriteGate) RunExclusive(fn func() error) error {
	g.lock.Lock()
	defer g.lock.Unlock()
	return fn()
}
