// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package pool is a bounded executor for handler callbacks.
//
// Handlers that may block (bot commands waiting on a reply, database queries)
// are run here instead of on the goroutine that reads the stream.
// At most Size of them run at once; submitting more blocks the submitter,
// which applies backpressure to the reader instead of growing without bound.
package pool // import "mellium.im/keelsbot/internal/pool"

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of concurrent tasks used when New is given a
// non-positive size.
const DefaultSize = 32

// Pool runs functions on a bounded number of goroutines.
// The zero value is not usable; use New.
type Pool struct {
	sem     *semaphore.Weighted
	size    int64
	wg      sync.WaitGroup
	running atomic.Int64
}

// New returns a pool that runs at most size functions concurrently.
func New(size int64) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		sem:  semaphore.NewWeighted(size),
		size: size,
	}
}

// Size returns the maximum number of concurrently running tasks.
func (p *Pool) Size() int64 {
	return p.size
}

// Go runs f on its own goroutine as soon as a slot is free.
// If ctx is canceled while waiting for a slot f is not run and the context
// error is returned.
func (p *Pool) Go(ctx context.Context, f func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.start(f)
	return nil
}

// TryGo is like Go but returns false immediately if no slot is free.
func (p *Pool) TryGo(f func()) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.start(f)
	return true
}

// start runs f on a new goroutine; the caller must hold a slot.
func (p *Pool) start(f func()) {
	p.wg.Add(1)
	p.running.Add(1)
	go func() {
		defer func() {
			p.running.Add(-1)
			p.sem.Release(1)
			p.wg.Done()
		}()
		f()
	}()
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
