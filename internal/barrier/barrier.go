// Package barrier provides the synchronization point between the push and
// the pull phase of an operator whose workers are not known in advance.
package barrier

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
)

var ErrTooManyArrivals = errors.New("more Arrive calls than registered producers")

// Barrier lets exactly one worker proceed once every worker that produced
// data has announced that it stopped producing.
//
// Every producing worker calls Register once, before its first push. Every
// worker that registered calls Arrive once, on its first pull. One of the
// pulling workers wins Claim and calls Wait before consuming the data.
type Barrier struct {
	expected atomic.Int64
	finished atomic.Int64
	claimed  atomic.Bool
}

func New() *Barrier {
	return &Barrier{}
}

func (b *Barrier) Register() {
	b.expected.Add(1)
}

func (b *Barrier) Arrive() error {
	if b.finished.Add(1) > b.expected.Load() {
		return ErrTooManyArrivals
	}
	return nil
}

// Claim returns true for exactly one caller.
func (b *Barrier) Claim() bool {
	return b.claimed.CompareAndSwap(false, true)
}

// Wait yields until every registered worker arrived. It only returns early
// if ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	for b.finished.Load() < b.expected.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

// Pending returns the number of registered workers that did not arrive yet.
func (b *Barrier) Pending() int64 {
	return b.expected.Load() - b.finished.Load()
}
