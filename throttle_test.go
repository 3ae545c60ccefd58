// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gopkg.in/check.v1"
)

type throttleSuite struct{}

var _ = check.Suite(&throttleSuite{})

func (s *throttleSuite) TestMax(c *check.C) {
	th := throttle{Max: 3}
	var running, peak int64
	for i := 0; i < 20; i++ {
		err := th.Go(context.Background(), func() error {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&running, -1)
			return nil
		})
		c.Check(err, check.IsNil)
	}
	c.Check(th.Wait(), check.IsNil)
	c.Check(peak <= 3, check.Equals, true)
	c.Check(peak > 0, check.Equals, true)
}

func (s *throttleSuite) TestError(c *check.C) {
	th := throttle{Max: 1}
	fail := errors.New("fail")
	c.Check(th.Go(context.Background(), func() error { return fail }), check.IsNil)
	c.Check(th.Wait(), check.Equals, fail)
	called := false
	c.Check(th.Go(context.Background(), func() error { called = true; return nil }), check.Equals, fail)
	c.Check(th.Wait(), check.Equals, fail)
	c.Check(called, check.Equals, false)
}

func (s *throttleSuite) TestCancel(c *check.C) {
	th := throttle{Max: 1}
	ctx, cancel := context.WithCancel(context.Background())
	unblock := make(chan bool)
	c.Check(th.Go(ctx, func() error { <-unblock; return nil }), check.IsNil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	// no free slot until the first function returns
	called := false
	c.Check(th.Go(ctx, func() error { called = true; return nil }), check.Equals, context.Canceled)
	close(unblock)
	c.Check(th.Wait(), check.IsNil)
	c.Check(called, check.Equals, false)
	c.Check(th.Go(ctx, func() error { called = true; return nil }), check.Equals, context.Canceled)
	c.Check(called, check.Equals, false)
}
