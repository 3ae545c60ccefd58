// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"flag"
	"fmt"
)

// batchArgs selects one of several equal slices of the test samples,
// so an external scheduler can split a large test set across
// processes.
type batchArgs struct {
	batch   int
	batches int
}

func (b *batchArgs) Flags(flags *flag.FlagSet) {
	flags.IntVar(&b.batches, "batches", 1, "number of batches")
	flags.IntVar(&b.batch, "batch", -1, "only do `N`th batch (-1 = all)")
}

// Range returns the half-open range of indexes in the selected batch
// of n items.
func (b *batchArgs) Range(n int) (int, int) {
	if b.batches <= 1 || b.batch < 0 {
		return 0, n
	}
	batchsize := (n + b.batches - 1) / b.batches
	start := batchsize * b.batch
	if start > n {
		start = n
	}
	end := start + batchsize
	if end > n {
		end = n
	}
	return start, end
}

func (b *batchArgs) validate() error {
	if b.batches < 1 {
		return fmt.Errorf("%w: -batches=%d must be at least 1", errUsage, b.batches)
	}
	if b.batch >= b.batches {
		return fmt.Errorf("%w: -batch=%d out of range for -batches=%d", errUsage, b.batch, b.batches)
	}
	return nil
}
