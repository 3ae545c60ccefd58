// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ScoreMatrix has one row per test sample and one column per label.
type ScoreMatrix struct {
	Samples []string
	Labels  []string
	Data    *mat.Dense
}

// Row returns a copy of sample i's scores.
func (sm *ScoreMatrix) Row(i int) []float64 {
	return mat.Row(nil, i, sm.Data)
}

// Best returns the column of the highest score in each row. Ties go
// to the first label.
func (sm *ScoreMatrix) Best() []int {
	rows, _ := sm.Data.Dims()
	best := make([]int, rows)
	for i := range best {
		best[i] = floats.MaxIdx(sm.Data.RawRowView(i))
	}
	return best
}

// quantileRank is the (1-based) neighbor rank whose distance gives
// the score: the value that a quantile fraction of the label's n
// reference samples are at least as correlated with.
func quantileRank(n int, quantile float64) int {
	return clampK(int(math.Ceil((1-quantile)*float64(n))), n)
}

// distanceToCorrelation converts the distance between two
// RankTransform columns, each of squared norm 1/4, to their Spearman
// correlation.
func distanceToCorrelation(d float64) float64 {
	return 1 - 2*d*d
}

// scoreSample returns the approximate quantile correlation of the
// ranked query q with the points in idx.
func scoreSample(idx NeighborIndex, q []float64, quantile float64) float64 {
	return distanceToCorrelation(idx.KthDistance(q, quantileRank(idx.Len(), quantile)))
}

// scoreColumns scores the ranked test columns against every label's
// training-time index, writing row i of dst for each ranked[i].
func (tr *TrainedReference) scoreColumns(ranked [][]float64, quantile float64, dst [][]float64) {
	for i, q := range ranked {
		row := dst[i]
		for l := range tr.refs {
			row[l] = scoreSample(tr.refs[l].index, q, quantile)
		}
	}
}

// rescore ranks the reference and test values of the given common
// gene rows, builds a fresh index for each candidate label and
// returns the candidates' scores.
func (tr *TrainedReference) rescore(sample []float64, candidates []int, rows []int, quantile float64) ([]float64, error) {
	sub := make([]float64, len(rows))
	for i, row := range rows {
		sub[i] = sample[row]
	}
	q := scaledRanks(sub)
	scores := make([]float64, len(candidates))
	for i, l := range candidates {
		idx, err := tr.Index.Build(rankColumns(tr.refs[l].raw, rows))
		if err != nil {
			return nil, err
		}
		scores[i] = scoreSample(idx, q, quantile)
	}
	return scores, nil
}
