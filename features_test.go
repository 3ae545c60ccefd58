// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type featuresSuite struct{}

var _ = check.Suite(&featuresSuite{})

// smallReference has 3 samples each of labels A and B. A is high on
// g0 and g1, B is high on g2, and g3 is flat.
func smallReference(c *check.C) (*ExpressionMatrix, []string) {
	m, err := NewExpressionMatrix(
		[]string{"g0", "g1", "g2", "g3"},
		[]string{"a1", "a2", "a3", "b1", "b2", "b3"},
		mat.NewDense(4, 6, []float64{
			5, 5.1, 4.9, 0, 0.1, 0.2,
			3, 3.1, 2.9, 0, 0.2, 0.1,
			0, 0.1, 0.2, 4, 4.1, 3.9,
			1, 1, 1, 1, 1, 1,
		}))
	c.Assert(err, check.IsNil)
	return m, []string{"A", "A", "A", "B", "B", "B"}
}

func (s *featuresSuite) TestDefaultDENumber(c *check.C) {
	c.Check(DefaultDENumber(1), check.Equals, 500)
	c.Check(DefaultDENumber(2), check.Equals, 333)
	c.Check(DefaultDENumber(4), check.Equals, 222)
}

func (s *featuresSuite) TestDE(c *check.C) {
	ref, labels := smallReference(c)
	params := DefaultTrainParams()
	params.DENumber = 1
	tr, err := Train(ref, labels, ModeSpec(ModeDE), params)
	c.Assert(err, check.IsNil)
	c.Check(tr.Labels, check.DeepEquals, []string{"A", "B"})
	c.Check(tr.Markers.Pairwise["A"]["B"], check.DeepEquals, []string{"g0"})
	c.Check(tr.Markers.Pairwise["B"]["A"], check.DeepEquals, []string{"g2"})
	c.Check(tr.Markers.Pairwise["A"]["A"], check.HasLen, 0)
	c.Check(tr.Genes, check.DeepEquals, []string{"g0", "g2"})

	params.DENumber = 0
	tr, err = Train(ref, labels, ModeSpec(ModeDE), params)
	c.Assert(err, check.IsNil)
	c.Check(tr.Markers.Pairwise["A"]["B"], check.DeepEquals, []string{"g0", "g1"})
	c.Check(tr.Genes, check.DeepEquals, []string{"g0", "g1", "g2"})

	// every gene selected for a pair is in the common set
	common := map[string]bool{}
	for _, g := range tr.Genes {
		common[g] = true
	}
	for _, row := range tr.Markers.Pairwise {
		for _, genes := range row {
			for _, g := range genes {
				c.Check(common[g], check.Equals, true)
			}
		}
	}
}

func (s *featuresSuite) TestSD(c *check.C) {
	ref, labels := smallReference(c)
	params := DefaultTrainParams()
	tr, err := Train(ref, labels, ModeSpec(ModeSD), params)
	c.Assert(err, check.IsNil)
	c.Check(tr.Genes, check.DeepEquals, []string{"g0", "g1", "g2"})
	c.Check(tr.Markers.Shared, check.DeepEquals, tr.Genes)
	c.Check(tr.Markers.Pairwise, check.IsNil)

	params.SDThresh = 2.5
	tr, err = Train(ref, labels, ModeSpec(ModeSD), params)
	c.Assert(err, check.IsNil)
	c.Check(tr.Genes, check.DeepEquals, []string{"g0", "g2"})

	params.SDThresh = 100
	_, err = Train(ref, labels, ModeSpec(ModeSD), params)
	c.Check(errors.Is(err, ErrConfig), check.Equals, true)
}

func (s *featuresSuite) TestAll(c *check.C) {
	ref, labels := smallReference(c)
	tr, err := Train(ref, labels, ModeSpec(ModeAll), DefaultTrainParams())
	c.Assert(err, check.IsNil)
	c.Check(tr.Genes, check.DeepEquals, ref.Genes)
	c.Check(tr.Markers.gatherRows([]int{0, 1}), check.DeepEquals, []int{0, 1, 2, 3})
}

func (s *featuresSuite) TestRestrict(c *check.C) {
	ref, labels := smallReference(c)
	params := DefaultTrainParams()
	params.Restrict = []string{"g3", "g1", "nonexistent"}
	tr, err := Train(ref, labels, ModeSpec(ModeAll), params)
	c.Assert(err, check.IsNil)
	c.Check(tr.Genes, check.DeepEquals, []string{"g3", "g1"})
}

func (s *featuresSuite) TestSingleLabel(c *check.C) {
	ref, _ := smallReference(c)
	labels := []string{"A", "A", "A", "A", "A", "A"}
	for _, mode := range []string{ModeDE, ModeSD} {
		_, err := Train(ref, labels, ModeSpec(mode), DefaultTrainParams())
		c.Check(errors.Is(err, ErrConfig), check.Equals, true, check.Commentf("mode %s", mode))
	}
	_, err := Train(ref, labels, ModeSpec(ModeAll), DefaultTrainParams())
	c.Check(err, check.IsNil)
}

func (s *featuresSuite) TestBadMode(c *check.C) {
	ref, labels := smallReference(c)
	_, err := Train(ref, labels, ModeSpec("bogus"), DefaultTrainParams())
	c.Check(errors.Is(err, ErrConfig), check.Equals, true)
	_, err = Train(ref, labels, nil, DefaultTrainParams())
	c.Check(errors.Is(err, ErrConfig), check.Equals, true)
	_, err = Train(ref, labels[:5], ModeSpec(ModeAll), DefaultTrainParams())
	c.Check(errors.Is(err, ErrConfig), check.Equals, true)
}

func (s *featuresSuite) TestPairwise(c *check.C) {
	ref, labels := smallReference(c)
	spec := PairwiseMarkers{
		"A": {"A": nil, "B": {"g1", "unknown"}},
		"B": {"B": {}, "A": {"g2"}},
		// not in reference, ignored
		"C": {"A": {"g3"}},
	}
	tr, err := Train(ref, labels, spec, DefaultTrainParams())
	c.Assert(err, check.IsNil)
	c.Check(tr.Markers.Mode, check.Equals, ModePairwise)
	c.Check(tr.Genes, check.DeepEquals, []string{"g1", "g2"})
	c.Check(tr.Markers.Pairwise["A"]["B"], check.DeepEquals, []string{"g1"})
	c.Check(tr.Markers.gatherRows([]int{0, 1}), check.DeepEquals, []int{0, 1})
	c.Check(tr.Markers.gatherRows([]int{0}), check.HasLen, 0)
}

func (s *featuresSuite) TestPairwiseIncomplete(c *check.C) {
	ref, labels := smallReference(c)
	for _, spec := range []PairwiseMarkers{
		// no entry for B
		{"A": {"A": nil, "B": {"g1"}}},
		// no A/B entry
		{"A": {"A": nil}, "B": {"B": nil, "A": {"g2"}}},
		// no self entry
		{"A": {"B": {"g1"}}, "B": {"B": nil, "A": {"g2"}}},
		// non-empty self entry
		{"A": {"A": {"g0"}, "B": {"g1"}}, "B": {"B": nil, "A": {"g2"}}},
	} {
		_, err := Train(ref, labels, spec, DefaultTrainParams())
		c.Check(errors.Is(err, ErrConfig), check.Equals, true, check.Commentf("%v", spec))
	}
}

func (s *featuresSuite) TestPerLabel(c *check.C) {
	ref, labels := smallReference(c)
	tr, err := Train(ref, labels, PerLabelMarkers{
		"A": {"g0"},
		"B": {"g2", "unknown"},
	}, DefaultTrainParams())
	c.Assert(err, check.IsNil)
	c.Check(tr.Markers.Mode, check.Equals, ModePerLabel)
	c.Check(tr.Genes, check.DeepEquals, []string{"g0", "g2"})
	c.Check(tr.Markers.Pairwise["A"]["A"], check.DeepEquals, []string{"g0"})
	c.Check(tr.Markers.Pairwise["A"]["B"], check.HasLen, 0)
	c.Check(tr.Markers.Pairwise["B"]["B"], check.DeepEquals, []string{"g2"})
	// comparing A with B uses the markers of both
	c.Check(tr.Markers.gatherRows([]int{0, 1}), check.DeepEquals, []int{0, 1})
	c.Check(tr.Markers.gatherRows([]int{1}), check.DeepEquals, []int{1})

	_, err = Train(ref, labels, PerLabelMarkers{"A": {"g0"}}, DefaultTrainParams())
	c.Check(errors.Is(err, ErrConfig), check.Equals, true)
}

func (s *featuresSuite) TestMedian(c *check.C) {
	c.Check(median([]float64{3, 1, 2}), check.Equals, 2.0)
	c.Check(median([]float64{4, 1, 3, 2}), check.Equals, 2.5)
	c.Check(median([]float64{7}), check.Equals, 7.0)
}

func (s *featuresSuite) TestUniqueLabels(c *check.C) {
	c.Check(uniqueLabels([]string{"b", "a", "b", "c", "a"}), check.DeepEquals, []string{"a", "b", "c"})
	c.Check(labelColumns([]string{"b", "a", "b"}, []string{"a", "b"}), check.DeepEquals, [][]int{{1}, {0, 2}})
}
