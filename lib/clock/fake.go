// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// FakeClock is a Clock that moves only when Advance is called. Safe
// for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  timerHeap
	seq     uint64
	pending *sync.Cond
}

// fakeTimer is a pending After or Ticker. period is zero for After.
type fakeTimer struct {
	when   time.Time
	period time.Duration
	ch     chan time.Time
	seq    uint64
	index  int
}

// timerHeap orders timers by deadline, then by registration.
type timerHeap []*fakeTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *timerHeap) Push(x any) {
	timer := x.(*fakeTimer)
	timer.index = len(*h)
	*h = append(*h, timer)
}

func (h *timerHeap) Pop() any {
	old := *h
	timer := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	timer.index = -1
	return timer
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.pending = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.scheduleLocked(&fakeTimer{when: c.now.Add(d), ch: ch})
	return ch
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	timer := &fakeTimer{when: c.now.Add(d), period: d, ch: ch}
	c.scheduleLocked(timer)
	c.mu.Unlock()
	return &Ticker{C: ch, stopFunc: func() { c.stop(timer) }}
}

func (c *FakeClock) scheduleLocked(timer *fakeTimer) {
	c.seq++
	timer.seq = c.seq
	heap.Push(&c.timers, timer)
	c.pending.Broadcast()
}

func (c *FakeClock) stop(timer *fakeTimer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer.index >= 0 {
		heap.Remove(&c.timers, timer.index)
	}
}

// Advance moves the clock forward by d, firing due timers in deadline
// order with their deadline as the tick value. A ticker that falls
// due several times keeps at most one unread tick.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.now.Add(d)
	for len(c.timers) > 0 && !c.timers[0].when.After(target) {
		timer := c.timers[0]
		c.now = timer.when
		select {
		case timer.ch <- timer.when:
		default:
		}
		if timer.period > 0 {
			timer.when = timer.when.Add(timer.period)
			heap.Fix(&c.timers, 0)
		} else {
			heap.Pop(&c.timers)
		}
	}
	c.now = target
}

// WaitForTimers blocks until at least n timers are pending. Tests use
// it to know a goroutine has started waiting before advancing.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timers) < n {
		c.pending.Wait()
	}
}

// PendingCount returns the number of pending timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
