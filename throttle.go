// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"context"
	"sync"
	"sync/atomic"
)

// throttle runs at most Max functions at a time and remembers the
// first error any of them returned.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan bool
	err       atomic.Value
	setupOnce sync.Once
	errorOnce sync.Once
}

// Go waits for a free slot and calls f in a new goroutine. It
// returns without calling f if ctx is done first (ctx.Err()) or an
// earlier function has already failed (that function's error).
func (t *throttle) Go(ctx context.Context, f func() error) error {
	t.setupOnce.Do(func() { t.ch = make(chan bool, t.Max) })
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case t.ch <- true:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := t.Err(); err != nil {
		<-t.ch
		return err
	}
	t.wg.Add(1)
	go func() {
		defer t.release()
		t.Report(f())
	}()
	return nil
}

func (t *throttle) release() {
	t.wg.Done()
	<-t.ch
}

func (t *throttle) Report(err error) {
	if err != nil {
		t.errorOnce.Do(func() { t.err.Store(err) })
	}
}

func (t *throttle) Err() error {
	err, _ := t.err.Load().(error)
	return err
}

// Wait waits for all started functions to return, and returns the
// first error reported.
func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}
