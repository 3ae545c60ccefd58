// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Floor for the sum of squared centred ranks, so a column of
// constant values (or a single gene) scales to zero instead of
// dividing by zero.
const rankVarianceFloor = 1e-8

// RankTransform replaces each column of m with its scaled, centred
// ranks. The Euclidean distance d between two transformed columns is
// related to the Spearman correlation of the original columns by
// rho = 1 - 2*d^2.
func RankTransform(m mat.Matrix) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		out.SetCol(j, scaledRanks(col))
	}
	return out
}

// rankColumns returns the scaled ranks of each column of m,
// restricted to the given rows.
func rankColumns(m mat.Matrix, rows []int) [][]float64 {
	_, cols := m.Dims()
	out := make([][]float64, cols)
	buf := make([]float64, len(rows))
	for j := range out {
		for i, row := range rows {
			buf[i] = m.At(row, j)
		}
		out[j] = scaledRanks(buf)
	}
	return out
}

// columns returns copies of the columns of m.
func columns(m *mat.Dense) [][]float64 {
	_, cols := m.Dims()
	out := make([][]float64, cols)
	for j := range out {
		out[j] = mat.Col(nil, j, m)
	}
	return out
}

// scaledRanks returns average ranks of x (ties share the mean of the
// ranks they span), centred on (n+1)/2 and divided by twice the root
// of their sum of squares.
func scaledRanks(x []float64) []float64 {
	n := len(x)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	out := make([]float64, n)
	center := float64(n+1) / 2
	for start := 0; start < n; {
		end := start + 1
		for end < n && x[order[end]] == x[order[start]] {
			end++
		}
		// ranks start+1 .. end, 1-based
		rank := float64(start+1+end)/2 - center
		for _, i := range order[start:end] {
			out[i] = rank
		}
		start = end
	}

	ss := 0.0
	for _, v := range out {
		ss += v * v
	}
	scale := 2 * math.Sqrt(math.Max(ss, rankVarianceFloor))
	for i := range out {
		out[i] /= scale
	}
	return out
}
