// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"flag"
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// NoCall replaces pruned labels.
const NoCall = ""

// Consistency constant making the MAD estimate the standard deviation
// of normally distributed data.
const madScale = 1.4826

// Fraction of the score matrix's range used as the top-minus-median
// threshold when MinDiffMed is NaN.
const autoMinDiffMedFraction = 0.1

type PruneParams struct {
	// Flag samples whose top score is more than NMADs median
	// absolute deviations below the median top score of their
	// label.
	NMADs float64
	// Without fine-tuning scores, flag samples whose top score
	// exceeds the median of their scores by less than this. NaN
	// derives the threshold from the score matrix; a non-positive
	// value disables the check.
	MinDiffMed float64
	// With fine-tuning scores, flag samples whose best score
	// exceeds the next best by less than this.
	MinDiffNext float64
}

func DefaultPruneParams() PruneParams {
	return PruneParams{
		NMADs:       3,
		MinDiffMed:  math.NaN(),
		MinDiffNext: 0.05,
	}
}

func (p *PruneParams) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&p.NMADs, "nmads", 3, "prune samples more than `N` MADs below their label's median top score")
	flags.Float64Var(&p.MinDiffMed, "min-diff-med", math.NaN(), "prune samples whose top score exceeds their median score by less than `delta` (NaN = 10% of score range, <=0 = disable; used without fine-tuning)")
	flags.Float64Var(&p.MinDiffNext, "min-diff-next", 0.05, "prune samples whose best fine-tuning score exceeds the next by less than `delta`")
}

// Prune returns true for each sample whose assignment (labels[i],
// usually PredictionResult.Labels) looks unreliable. tuning may be
// nil.
func Prune(scores *ScoreMatrix, labels []string, tuning [][2]float64, params PruneParams) []bool {
	flags := perLabelFlags(scores, labels, params.NMADs)
	var cell []bool
	if len(tuning) > 0 {
		cell = diffNextFlags(tuning, params.MinDiffNext)
	} else {
		cell = diffMedFlags(scores, params.MinDiffMed)
	}
	n := 0
	for i := range flags {
		flags[i] = flags[i] || cell[i]
		if flags[i] {
			n++
		}
	}
	log.Infof("pruning %d of %d assignments", n, len(flags))
	return flags
}

// ApplyPruning sets res.PrunedLabels and returns the flags from
// Prune.
func (res *PredictionResult) ApplyPruning(params PruneParams) []bool {
	flags := Prune(res.Scores, res.Labels, res.Tuning, params)
	res.PrunedLabels = make([]string, len(res.Labels))
	for i, l := range res.Labels {
		if !flags[i] {
			res.PrunedLabels[i] = l
		}
	}
	return flags
}

func diffNextFlags(tuning [][2]float64, minDiffNext float64) []bool {
	flags := make([]bool, len(tuning))
	for i, t := range tuning {
		// NaN next score (single label) never flags
		flags[i] = t[0] < t[1]+minDiffNext
	}
	return flags
}

func diffMedFlags(scores *ScoreMatrix, minDiffMed float64) []bool {
	rows, _ := scores.Data.Dims()
	flags := make([]bool, rows)
	if math.IsNaN(minDiffMed) {
		raw := scores.Data.RawMatrix().Data
		minDiffMed = autoMinDiffMedFraction * (floats.Max(raw) - floats.Min(raw))
		log.Debugf("derived min-diff-med threshold %g", minDiffMed)
	}
	if !(minDiffMed > 0) {
		return flags
	}
	for i := range flags {
		row := scores.Row(i)
		top := floats.Max(row)
		flags[i] = top-median(row) < minDiffMed
	}
	return flags
}

// perLabelFlags flags samples whose top score is an outlier (more
// than nmads scaled MADs below the median) among samples assigned the
// same label.
func perLabelFlags(scores *ScoreMatrix, labels []string, nmads float64) []bool {
	rows, _ := scores.Data.Dims()
	flags := make([]bool, rows)
	top := make([]float64, rows)
	for i := range top {
		top[i] = floats.Max(scores.Data.RawRowView(i))
	}
	ulabels := uniqueLabels(labels)
	for l, idx := range labelColumns(labels, ulabels) {
		if ulabels[l] == NoCall {
			continue
		}
		vals := make([]float64, len(idx))
		for k, i := range idx {
			vals[k] = top[i]
		}
		med := median(vals)
		for k, i := range idx {
			vals[k] = math.Abs(top[i] - med)
		}
		bound := med - nmads*madScale*median(vals)
		for _, i := range idx {
			flags[i] = top[i] < bound
		}
	}
	return flags
}
