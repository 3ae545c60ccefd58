// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"gonum.org/v1/gonum/mat"
)

type TrainParams struct {
	// Genes kept per label pair in de mode. Zero means
	// DefaultDENumber(number of labels).
	DENumber int
	// sd mode keeps genes whose standard deviation across label
	// medians exceeds this.
	SDThresh float64
	// If not empty, only these genes are considered.
	Restrict []string
	Index    IndexConfig
	// Worker goroutines for index construction. Zero means
	// GOMAXPROCS.
	Threads int
}

func DefaultTrainParams() TrainParams {
	return TrainParams{
		SDThresh: 1,
		Index:    DefaultIndexConfig(),
	}
}

// TrainedReference holds everything classification needs. It is not
// modified after Train or LoadReference returns, and can be shared by
// concurrent Classify calls.
type TrainedReference struct {
	// Common genes, the rows of every per-label reference matrix.
	Genes   []string
	Labels  []string
	Markers *MarkerSet
	Index   IndexConfig

	refs        []labelReference
	fingerprint string
}

type labelReference struct {
	samples []string
	// Original values, common genes x samples of this label.
	raw *mat.Dense
	// Built over the rank-transformed common genes.
	index NeighborIndex
}

// Train selects genes according to spec and builds a neighbor index
// for each label's reference samples.
func Train(ref *ExpressionMatrix, labels []string, spec FeatureSpec, params TrainParams) (*TrainedReference, error) {
	if len(labels) != len(ref.Samples) {
		return nil, fmt.Errorf("%w: %d labels for %d reference samples", ErrConfig, len(labels), len(ref.Samples))
	}
	for i, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("%w: reference sample %q has no label", ErrConfig, ref.Samples[i])
		}
	}
	if spec == nil {
		return nil, fmt.Errorf("%w: no gene selection specified", ErrConfig)
	}
	if err := params.Index.Validate(); err != nil {
		return nil, err
	}
	if len(params.Restrict) > 0 {
		genes := ref.Intersect(params.Restrict)
		log.Infof("restricting reference to %d of %d genes", len(genes), len(ref.Genes))
		var err error
		ref, err = ref.Subset(genes)
		if err != nil {
			return nil, err
		}
	}

	markers, err := spec.resolve(ref, labels, params)
	if err != nil {
		return nil, err
	}
	if err = markers.Validate(); err != nil {
		return nil, err
	}
	markers.index()
	common, err := ref.Subset(markers.Common)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"mode":   markers.Mode,
		"labels": len(markers.Labels),
		"genes":  len(markers.Common),
	}).Info("selected genes")

	tr := &TrainedReference{
		Genes:   markers.Common,
		Labels:  markers.Labels,
		Markers: markers,
		Index:   params.Index,
		refs:    make([]labelReference, len(markers.Labels)),
	}
	for l, cols := range labelColumns(labels, markers.Labels) {
		sub := common.Columns(cols)
		tr.refs[l] = labelReference{samples: sub.Samples, raw: sub.Data}
	}
	if err = tr.buildIndexes(params.Threads); err != nil {
		return nil, err
	}
	tr.fingerprint = tr.computeFingerprint()
	log.Infof("trained reference %s", tr.fingerprint)
	return tr, nil
}

// buildIndexes fills in refs[*].index, one label per worker.
func (tr *TrainedReference) buildIndexes(threads int) error {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	th := throttle{Max: threads}
	for l := range tr.refs {
		l := l
		err := th.Go(context.Background(), func() error {
			ref := &tr.refs[l]
			idx, err := tr.Index.Build(columns(RankTransform(ref.raw)))
			if err != nil {
				return fmt.Errorf("label %q: %w", tr.Labels[l], err)
			}
			ref.index = idx
			log.Debugf("built %s index for label %q (%d samples)", tr.Index.Strategy, tr.Labels[l], idx.Len())
			return nil
		})
		if err != nil {
			break
		}
	}
	return th.Wait()
}

// Fingerprint identifies the genes, labels, markers and reference
// values of a trained reference.
func (tr *TrainedReference) Fingerprint() string {
	return tr.fingerprint
}

func (tr *TrainedReference) computeFingerprint() string {
	h, _ := blake2b.New256(nil)
	writeStrings := func(ss []string) {
		binary.Write(h, binary.LittleEndian, int64(len(ss)))
		for _, s := range ss {
			binary.Write(h, binary.LittleEndian, int64(len(s)))
			h.Write([]byte(s))
		}
	}
	h.Write([]byte(tr.Markers.Mode))
	writeStrings(tr.Genes)
	writeStrings(tr.Labels)
	writeStrings(tr.Markers.Shared)
	for _, a := range tr.Labels {
		for _, b := range tr.Labels {
			writeStrings(tr.Markers.Pairwise[a][b])
		}
	}
	for _, ref := range tr.refs {
		writeStrings(ref.samples)
		binary.Write(h, binary.LittleEndian, ref.raw.RawMatrix().Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
