// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"errors"

	"gopkg.in/check.v1"
)

type batchArgsSuite struct{}

var _ = check.Suite(&batchArgsSuite{})

func (s *batchArgsSuite) TestRange(c *check.C) {
	for _, trial := range []struct {
		batch, batches, n int
		start, end        int
	}{
		{-1, 1, 10, 0, 10},
		{-1, 3, 10, 0, 10},
		{0, 3, 10, 0, 4},
		{1, 3, 10, 4, 8},
		{2, 3, 10, 8, 10},
		{3, 4, 2, 2, 2},
	} {
		b := batchArgs{batch: trial.batch, batches: trial.batches}
		start, end := b.Range(trial.n)
		c.Check(start, check.Equals, trial.start, check.Commentf("%+v", trial))
		c.Check(end, check.Equals, trial.end, check.Commentf("%+v", trial))
	}
}

func (s *batchArgsSuite) TestValidate(c *check.C) {
	c.Check((&batchArgs{batch: -1, batches: 1}).validate(), check.IsNil)
	c.Check((&batchArgs{batch: 2, batches: 3}).validate(), check.IsNil)
	c.Check(errors.Is((&batchArgs{batch: 3, batches: 3}).validate(), errUsage), check.Equals, true)
	c.Check(errors.Is((&batchArgs{batch: 0, batches: 0}).validate(), errUsage), check.Equals, true)
}
