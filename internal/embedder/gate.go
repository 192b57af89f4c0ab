package embedder

import "context"

// Gate is a capacity-one semaphore. Only one embedding computation runs at a time on
// the host, whichever caller asks for it.
type Gate struct {
	slot chan struct{}
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the gate is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the gate. It must follow a successful Acquire.
func (g *Gate) Release() {
	<-g.slot
}
