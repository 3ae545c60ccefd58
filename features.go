// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	ModeDE       = "de"
	ModeSD       = "sd"
	ModeAll      = "all"
	ModePairwise = "pairwise"
	ModePerLabel = "per-label"
)

// FeatureSpec says how marker genes are chosen. It is one of
// ModeSpec, PairwiseMarkers or PerLabelMarkers.
type FeatureSpec interface {
	resolve(ref *ExpressionMatrix, labels []string, params TrainParams) (*MarkerSet, error)
}

// ModeSpec selects markers from the reference data: ModeDE, ModeSD
// or ModeAll.
type ModeSpec string

// PairwiseMarkers maps label A -> label B -> A's markers against
// B. Every label needs an entry for every label, itself included
// (the self entry must be empty).
type PairwiseMarkers map[string]map[string][]string

// PerLabelMarkers maps each label to its markers. They are used
// whenever the label takes part in a comparison, regardless of the
// other label.
type PerLabelMarkers map[string][]string

// MarkerSet is the resolved form of a FeatureSpec.
type MarkerSet struct {
	Mode string
	// Labels, sorted.
	Labels []string
	// Union of every gene any comparison can need, in reference
	// row order.
	Common []string
	// Pairwise[a][b] is a's markers against b (de, pairwise and
	// per-label modes, the latter filling only the diagonal).
	Pairwise map[string]map[string][]string
	// Genes used for every comparison (sd and all modes).
	Shared []string

	// pairRows[a][b] lists rows of Common, built by index().
	pairRows   [][][]int
	sharedRows []int
}

// DefaultDENumber is the number of top genes kept per label pair in
// de mode: round(500 * (2/3)^log2(L)).
func DefaultDENumber(nlabels int) int {
	return int(math.RoundToEven(500 * math.Pow(2.0/3.0, math.Log2(float64(nlabels)))))
}

func (mode ModeSpec) resolve(ref *ExpressionMatrix, labels []string, params TrainParams) (*MarkerSet, error) {
	ulabels := uniqueLabels(labels)
	switch string(mode) {
	case ModeAll:
		return newSharedMarkerSet(ModeAll, ulabels, ref.Genes), nil
	case ModeSD:
		if len(ulabels) < 2 {
			return nil, fmt.Errorf("%w: %q gene selection needs at least 2 labels, have %d", ErrConfig, ModeSD, len(ulabels))
		}
		medians := labelMedians(ref, labels, ulabels)
		var genes []string
		for i, g := range ref.Genes {
			if stat.StdDev(medians.RawRowView(i), nil) > params.SDThresh {
				genes = append(genes, g)
			}
		}
		log.Infof("sd: %d of %d genes have standard deviation > %g across label medians", len(genes), len(ref.Genes), params.SDThresh)
		return newSharedMarkerSet(ModeSD, ulabels, genes), nil
	case ModeDE:
		if len(ulabels) < 2 {
			return nil, fmt.Errorf("%w: %q gene selection needs at least 2 labels, have %d", ErrConfig, ModeDE, len(ulabels))
		}
		n := params.DENumber
		if n <= 0 {
			n = DefaultDENumber(len(ulabels))
		}
		log.Infof("de: selecting up to %d genes for each of %d label pairs", n, len(ulabels)*(len(ulabels)-1))
		pairwise := deMarkers(ref, labels, ulabels, n)
		return newPairwiseMarkerSet(ModeDE, ulabels, ref, pairwise), nil
	default:
		return nil, fmt.Errorf("%w: unknown gene selection mode %q", ErrConfig, string(mode))
	}
}

func (pm PairwiseMarkers) resolve(ref *ExpressionMatrix, labels []string, params TrainParams) (*MarkerSet, error) {
	ulabels := uniqueLabels(labels)
	pairwise := make(map[string]map[string][]string, len(ulabels))
	for _, a := range ulabels {
		row, ok := pm[a]
		if !ok {
			return nil, fmt.Errorf("%w: no markers specified for label %q", ErrConfig, a)
		}
		pairwise[a] = make(map[string][]string, len(ulabels))
		for _, b := range ulabels {
			genes, ok := row[b]
			if !ok {
				return nil, fmt.Errorf("%w: no markers specified for label %q against %q", ErrConfig, a, b)
			}
			if a == b && len(genes) > 0 {
				return nil, fmt.Errorf("%w: markers for label %q against itself must be empty", ErrConfig, a)
			}
			pairwise[a][b] = knownGenes(ref, genes, a)
		}
	}
	for label := range pm {
		warnUnknownLabel(ulabels, label)
	}
	return newPairwiseMarkerSet(ModePairwise, ulabels, ref, pairwise), nil
}

func (pl PerLabelMarkers) resolve(ref *ExpressionMatrix, labels []string, params TrainParams) (*MarkerSet, error) {
	ulabels := uniqueLabels(labels)
	pairwise := make(map[string]map[string][]string, len(ulabels))
	for _, a := range ulabels {
		genes, ok := pl[a]
		if !ok {
			return nil, fmt.Errorf("%w: no markers specified for label %q", ErrConfig, a)
		}
		pairwise[a] = make(map[string][]string, len(ulabels))
		for _, b := range ulabels {
			pairwise[a][b] = nil
		}
		pairwise[a][a] = knownGenes(ref, genes, a)
	}
	for label := range pl {
		warnUnknownLabel(ulabels, label)
	}
	return newPairwiseMarkerSet(ModePerLabel, ulabels, ref, pairwise), nil
}

func warnUnknownLabel(ulabels []string, label string) {
	if i := sort.SearchStrings(ulabels, label); i < len(ulabels) && ulabels[i] == label {
		return
	}
	log.Warnf("ignoring markers for label %q, which does not appear in the reference", label)
}

// knownGenes drops (with a warning) genes that are not rows of ref.
func knownGenes(ref *ExpressionMatrix, genes []string, label string) []string {
	out := ref.Intersect(genes)
	if len(out) < len(genes) {
		log.Warnf("label %q: ignoring %d of %d marker genes not found in reference", label, len(genes)-len(out), len(genes))
	}
	return out
}

// deMarkers returns, for each ordered label pair (a, b), the top n
// genes by positive median difference median_a - median_b.
func deMarkers(ref *ExpressionMatrix, labels, ulabels []string, n int) map[string]map[string][]string {
	medians := labelMedians(ref, labels, ulabels)
	ngenes := len(ref.Genes)
	out := make(map[string]map[string][]string, len(ulabels))
	type geneDiff struct {
		row  int
		diff float64
	}
	diffs := make([]geneDiff, 0, ngenes)
	for i, a := range ulabels {
		out[a] = make(map[string][]string, len(ulabels))
		for j, b := range ulabels {
			if i == j {
				out[a][b] = nil
				continue
			}
			diffs = diffs[:0]
			for row := 0; row < ngenes; row++ {
				if d := medians.At(row, i) - medians.At(row, j); d > 0 {
					diffs = append(diffs, geneDiff{row, d})
				}
			}
			sort.SliceStable(diffs, func(x, y int) bool { return diffs[x].diff > diffs[y].diff })
			if len(diffs) > n {
				diffs = diffs[:n]
			}
			genes := make([]string, len(diffs))
			for k, gd := range diffs {
				genes[k] = ref.Genes[gd.row]
			}
			out[a][b] = genes
		}
	}
	return out
}

// labelMedians returns a genes x len(ulabels) matrix of per-label
// median expression.
func labelMedians(ref *ExpressionMatrix, labels, ulabels []string) *mat.Dense {
	cols := labelColumns(labels, ulabels)
	ngenes := len(ref.Genes)
	out := mat.NewDense(ngenes, len(ulabels), nil)
	for l, idx := range cols {
		buf := make([]float64, len(idx))
		for row := 0; row < ngenes; row++ {
			for k, col := range idx {
				buf[k] = ref.Data.At(row, col)
			}
			out.Set(row, l, median(buf))
		}
	}
	return out
}

func newSharedMarkerSet(mode string, ulabels, genes []string) *MarkerSet {
	return &MarkerSet{
		Mode:   mode,
		Labels: ulabels,
		Common: append([]string(nil), genes...),
		Shared: append([]string(nil), genes...),
	}
}

func newPairwiseMarkerSet(mode string, ulabels []string, ref *ExpressionMatrix, pairwise map[string]map[string][]string) *MarkerSet {
	want := map[string]bool{}
	for _, row := range pairwise {
		for _, genes := range row {
			for _, g := range genes {
				want[g] = true
			}
		}
	}
	var common []string
	for _, g := range ref.Genes {
		if want[g] {
			common = append(common, g)
		}
	}
	return &MarkerSet{
		Mode:     mode,
		Labels:   ulabels,
		Common:   common,
		Pairwise: pairwise,
	}
}

// Validate checks that every label has markers against every label,
// itself included, and that all markers are in the common set.
func (ms *MarkerSet) Validate() error {
	if len(ms.Labels) == 0 {
		return fmt.Errorf("%w: marker set has no labels", ErrConfig)
	}
	if len(ms.Common) == 0 {
		return fmt.Errorf("%w: no genes selected", ErrConfig)
	}
	common := make(map[string]bool, len(ms.Common))
	for _, g := range ms.Common {
		common[g] = true
	}
	check := func(genes []string, what string) error {
		for _, g := range genes {
			if !common[g] {
				return fmt.Errorf("%w: %s marker %q is not in the common gene set", ErrConfig, what, g)
			}
		}
		return nil
	}
	if ms.Pairwise == nil {
		return check(ms.Shared, "shared")
	}
	for _, a := range ms.Labels {
		row, ok := ms.Pairwise[a]
		if !ok {
			return fmt.Errorf("%w: no markers for label %q", ErrConfig, a)
		}
		for _, b := range ms.Labels {
			genes, ok := row[b]
			if !ok {
				return fmt.Errorf("%w: no markers for label %q against %q", ErrConfig, a, b)
			}
			if a == b && len(genes) > 0 && ms.Mode != ModePerLabel {
				return fmt.Errorf("%w: markers for label %q against itself must be empty", ErrConfig, a)
			}
			if err := check(genes, a+"/"+b); err != nil {
				return err
			}
		}
	}
	return nil
}

// index builds the row lookups used by gatherRows. It must be called
// after Validate succeeds.
func (ms *MarkerSet) index() {
	pos := make(map[string]int, len(ms.Common))
	for i, g := range ms.Common {
		pos[g] = i
	}
	toRows := func(genes []string) []int {
		rows := make([]int, len(genes))
		for i, g := range genes {
			rows[i] = pos[g]
		}
		return rows
	}
	if ms.Pairwise == nil {
		ms.sharedRows = toRows(ms.Shared)
		return
	}
	ms.pairRows = make([][][]int, len(ms.Labels))
	for i, a := range ms.Labels {
		ms.pairRows[i] = make([][]int, len(ms.Labels))
		for j, b := range ms.Labels {
			ms.pairRows[i][j] = toRows(ms.Pairwise[a][b])
		}
	}
}

// gatherRows returns the sorted union of Common rows needed to
// compare the given labels (indexes into Labels) against each other.
func (ms *MarkerSet) gatherRows(candidates []int) []int {
	if ms.Pairwise == nil {
		return ms.sharedRows
	}
	want := make(map[int]bool)
	for _, a := range candidates {
		for _, b := range candidates {
			for _, row := range ms.pairRows[a][b] {
				want[row] = true
			}
		}
	}
	rows := make([]int, 0, len(want))
	for row := range want {
		rows = append(rows, row)
	}
	sort.Ints(rows)
	return rows
}

// uniqueLabels returns the distinct labels in sorted order.
func uniqueLabels(labels []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

// labelColumns returns, for each label in ulabels, the indexes of
// the columns with that label.
func labelColumns(labels, ulabels []string) [][]int {
	pos := make(map[string]int, len(ulabels))
	for i, l := range ulabels {
		pos[l] = i
	}
	cols := make([][]int, len(ulabels))
	for col, l := range labels {
		cols[pos[l]] = append(cols[pos[l]], col)
	}
	return cols
}

// median sorts x in place and returns the mean of its middle
// elements.
func median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(x)
	if n%2 == 1 {
		return x[n/2]
	}
	return (x[n/2-1] + x[n/2]) / 2
}
