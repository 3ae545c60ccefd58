// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"gopkg.in/check.v1"
)

type modelSuite struct{}

var _ = check.Suite(&modelSuite{})

func (s *modelSuite) TestRoundTrip(c *check.C) {
	ref, labels := synthMatrix(threeLabels, 8, "", 30)
	test, _ := synthMatrix(threeLabels, 4, "t", 31)
	for _, spec := range []FeatureSpec{
		ModeSpec(ModeDE),
		ModeSpec(ModeSD),
		PerLabelMarkers{"A": {"g00", "g01"}, "B": {"g10", "g11"}, "C": {"g20", "g21"}},
	} {
		params := DefaultTrainParams()
		params.Index.Strategy = IndexExhaustive
		tr, err := Train(ref, labels, spec, params)
		c.Assert(err, check.IsNil)

		var buf bytes.Buffer
		c.Assert(SaveReference(&buf, tr), check.IsNil)
		loaded, err := LoadReference(&buf, 2)
		c.Assert(err, check.IsNil)
		c.Check(loaded.Fingerprint(), check.Equals, tr.Fingerprint())
		c.Check(loaded.Genes, check.DeepEquals, tr.Genes)
		c.Check(loaded.Labels, check.DeepEquals, tr.Labels)
		c.Check(loaded.Markers.Mode, check.Equals, tr.Markers.Mode)
		c.Check(loaded.Index, check.Equals, tr.Index)

		expect, err := Classify(context.Background(), test, tr, DefaultClassifyParams())
		c.Assert(err, check.IsNil)
		got, err := Classify(context.Background(), test, loaded, DefaultClassifyParams())
		c.Assert(err, check.IsNil)
		c.Check(got.Labels, check.DeepEquals, expect.Labels)
		c.Check(got.Tuning, check.DeepEquals, expect.Tuning)
		c.Check(got.Scores.Data.RawMatrix().Data, check.DeepEquals, expect.Scores.Data.RawMatrix().Data)
		c.Check(got.Fingerprint, check.Equals, expect.Fingerprint)
	}
}

func (s *modelSuite) TestFingerprint(c *check.C) {
	ref, labels := synthMatrix(threeLabels, 4, "", 32)
	tr1, err := Train(ref, labels, ModeSpec(ModeAll), DefaultTrainParams())
	c.Assert(err, check.IsNil)
	tr2, err := Train(ref, labels, ModeSpec(ModeAll), DefaultTrainParams())
	c.Assert(err, check.IsNil)
	c.Check(tr1.Fingerprint(), check.HasLen, 64)
	c.Check(tr1.Fingerprint(), check.Equals, tr2.Fingerprint())

	ref.Data.Set(0, 0, ref.Data.At(0, 0)+1)
	tr3, err := Train(ref, labels, ModeSpec(ModeAll), DefaultTrainParams())
	c.Assert(err, check.IsNil)
	c.Check(tr3.Fingerprint(), check.Not(check.Equals), tr1.Fingerprint())
}

func (s *modelSuite) TestLoadGarbage(c *check.C) {
	_, err := LoadReference(strings.NewReader("this is not a reference file"), 1)
	c.Check(err, check.NotNil)

	ref, labels := synthMatrix(threeLabels, 4, "", 33)
	tr, err := Train(ref, labels, ModeSpec(ModeAll), DefaultTrainParams())
	c.Assert(err, check.IsNil)
	tr.fingerprint = "0000"
	var buf bytes.Buffer
	c.Assert(SaveReference(&buf, tr), check.IsNil)
	_, err = LoadReference(&buf, 1)
	c.Check(errors.Is(err, ErrConfig), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*fingerprint mismatch.*`)
}
