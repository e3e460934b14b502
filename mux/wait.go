// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"context"
	"errors"
	"time"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/mask"
)

// ErrTimeout is returned by Waiter.Next when the deadline passes without a
// matching element.
var ErrTimeout = errors.New("mux: timed out waiting for a reply")

// Waiter is a pending wait for a single element.
type Waiter struct {
	c  chan *element.Element
	id ID
	m  *ServeMux
}

// Wait registers a one shot wait for the next element accepted by match.
// The wait takes part in dispatch in registration order like any handler, but
// the matching element is delivered to the Waiter instead of a callback.
// Register the wait before sending the request it expects a reply to.
func (m *ServeMux) Wait(match mask.Matcher) *Waiter {
	if match == nil {
		panic("mux: nil matcher")
	}
	w := &Waiter{c: make(chan *element.Element, 1), m: m}
	w.id = m.add(&registration{match: match, wait: w.c}, nil)
	return w
}

// C returns the channel on which the matching element will be delivered.
func (w *Waiter) C() <-chan *element.Element {
	return w.c
}

// Cancel removes the wait. An element that matches after Cancel is not
// delivered and is offered to later registrations instead.
func (w *Waiter) Cancel() {
	w.m.Remove(w.id)
}

// Next blocks until the element arrives, the timeout passes or ctx is
// canceled. The wait is always removed when Next returns.
func (w *Waiter) Next(ctx context.Context, timeout time.Duration) (*element.Element, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case e := <-w.c:
		return e, nil
	case <-t.C:
		w.Cancel()
	case <-ctx.Done():
		w.Cancel()
		return nil, ctx.Err()
	}
	// The element may have been delivered while the timer fired.
	select {
	case e := <-w.c:
		return e, nil
	default:
	}
	return nil, ErrTimeout
}
