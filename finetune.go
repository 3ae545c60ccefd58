// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"math"
	"sort"
)

// TuneState is one step of fine-tuning: the candidate labels
// (indexes into TrainedReference.Labels) and their scores, computed
// over the genes that separate them.
type TuneState struct {
	Candidates []int
	Scores     []float64
}

// top returns the candidate with the highest score, ties going to
// the earliest candidate.
func (st TuneState) top() int {
	best := 0
	for i, s := range st.Scores {
		if s > st.Scores[best] {
			best = i
		}
	}
	return st.Candidates[best]
}

// narrow returns the candidates scoring within delta of the best.
func (st TuneState) narrow(delta float64) []int {
	max := math.Inf(-1)
	for _, s := range st.Scores {
		if s > max {
			max = s
		}
	}
	var keep []int
	for i, s := range st.Scores {
		if s >= max-delta {
			keep = append(keep, st.Candidates[i])
		}
	}
	return keep
}

// topTwo returns the two highest scores. The second is NaN if there
// is only one.
func (st TuneState) topTwo() [2]float64 {
	sorted := append([]float64(nil), st.Scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	out := [2]float64{sorted[0], math.NaN()}
	if len(sorted) > 1 {
		out[1] = sorted[1]
	}
	return out
}

type fineTuner struct {
	ref      *TrainedReference
	quantile float64
	delta    float64
	// If not nil, called with every state, starting with the
	// coarse scores.
	trace func(TuneState)
}

// run narrows the label set for one test sample, given its values
// over the reference's common genes and its coarse score row. It
// returns the chosen label and the top two scores of the last
// computed step.
func (ft *fineTuner) run(sample []float64, coarse []float64) (int, [2]float64, error) {
	cur := TuneState{Candidates: make([]int, len(coarse)), Scores: coarse}
	for i := range cur.Candidates {
		cur.Candidates[i] = i
	}
	if ft.trace != nil {
		ft.trace(cur)
	}
	for {
		if len(cur.Candidates) == 1 {
			return cur.Candidates[0], cur.topTwo(), nil
		}
		keep := cur.narrow(ft.delta)
		if len(keep) == len(cur.Candidates) {
			// no further separation possible
			return cur.top(), cur.topTwo(), nil
		}
		if len(keep) == 1 {
			return keep[0], cur.topTwo(), nil
		}
		rows := ft.ref.Markers.gatherRows(keep)
		if len(rows) == 0 {
			return cur.top(), cur.topTwo(), nil
		}
		scores, err := ft.ref.rescore(sample, keep, rows, ft.quantile)
		if err != nil {
			return 0, [2]float64{}, err
		}
		cur = TuneState{Candidates: keep, Scores: scores}
		if ft.trace != nil {
			ft.trace(cur)
		}
	}
}
