// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source used by the login
// polling loop, the order pipeline's pacing delays, and the session
// keepalive.
//
// Production code holds a Clock and calls [Wait] instead of
// time.Sleep so that every pause is cancellable through a context:
//
//	if err := clock.Wait(ctx, c, 1500*time.Millisecond); err != nil {
//	    return err // cancelled mid-pause
//	}
//
// Tests construct a [FakeClock] and move time forward explicitly. A
// goroutine blocked in Wait, After, or a Ticker registers a waiter;
// [FakeClock.WaitForTimers] blocks until that registration happened,
// which removes the race between the code under test reaching its
// pause and the test advancing time.
package clock
