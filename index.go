// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"flag"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

const (
	IndexKDTree     = "kdtree"
	IndexExhaustive = "exhaustive"

	MetricEuclidean = "euclidean"
)

// IndexConfig selects how per-label neighbor indexes are built. The
// distance-to-correlation conversion is only valid for Euclidean
// distance, so any other metric is rejected.
type IndexConfig struct {
	Strategy string
	Metric   string
}

func DefaultIndexConfig() IndexConfig {
	return IndexConfig{Strategy: IndexKDTree, Metric: MetricEuclidean}
}

func (cfg *IndexConfig) Flags(flags *flag.FlagSet) {
	flags.StringVar(&cfg.Strategy, "index", IndexKDTree, "nearest-neighbor index `strategy`: kdtree or exhaustive")
	flags.StringVar(&cfg.Metric, "metric", MetricEuclidean, "distance `metric` (only euclidean is supported)")
}

func (cfg IndexConfig) Validate() error {
	if cfg.Metric != MetricEuclidean {
		return fmt.Errorf("%w: distance metric %q is not supported, rank-based correlation requires %q", ErrConfig, cfg.Metric, MetricEuclidean)
	}
	switch cfg.Strategy {
	case IndexKDTree, IndexExhaustive:
		return nil
	default:
		return fmt.Errorf("%w: unknown index strategy %q", ErrConfig, cfg.Strategy)
	}
}

// NeighborIndex answers "distance to the k-th nearest point" queries
// over a fixed set of points. Implementations are safe for
// concurrent queries.
type NeighborIndex interface {
	Len() int
	// KthDistance returns the Euclidean distance from q to its
	// k-th nearest point (1-based). k is clamped to [1, Len()].
	KthDistance(q []float64, k int) float64
}

// Build returns an index over the given points, which must all have
// the same length. The index keeps references to the point slices.
func (cfg IndexConfig) Build(points [][]float64) (NeighborIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: cannot build an index with no points", ErrConfig)
	}
	if cfg.Strategy == IndexExhaustive {
		return exhaustiveIndex(points), nil
	}
	pts := make(kdtree.Points, len(points))
	for i, p := range points {
		pts[i] = kdtree.Point(p)
	}
	return &kdIndex{tree: kdtree.New(pts, false), n: len(points)}, nil
}

func clampK(k, n int) int {
	if k < 1 {
		return 1
	}
	if k > n {
		return n
	}
	return k
}

type kdIndex struct {
	tree *kdtree.Tree
	n    int
}

func (idx *kdIndex) Len() int { return idx.n }

func (idx *kdIndex) KthDistance(q []float64, k int) float64 {
	keep := kdtree.NewNKeeper(clampK(k, idx.n))
	idx.tree.NearestSet(keep, kdtree.Point(q))
	// kdtree.Point distances are squared; the keeper may still
	// hold its +Inf sentinel (nil Comparable).
	worst := 0.0
	for _, c := range keep.Heap {
		if c.Comparable != nil && c.Dist > worst {
			worst = c.Dist
		}
	}
	return math.Sqrt(worst)
}

type exhaustiveIndex [][]float64

func (idx exhaustiveIndex) Len() int { return len(idx) }

func (idx exhaustiveIndex) KthDistance(q []float64, k int) float64 {
	dists := make([]float64, len(idx))
	for i, p := range idx {
		sum := 0.0
		for dim, v := range p {
			d := v - q[dim]
			sum += d * d
		}
		dists[i] = sum
	}
	sort.Float64s(dists)
	return math.Sqrt(dists[clampK(k, len(idx))-1])
}
