// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

const referenceFileVersion = 1

// referenceFile is the gob-encoded form of a TrainedReference.
// Indexes are rebuilt on load.
type referenceFile struct {
	Version     int
	Genes       []string
	Labels      []string
	Markers     MarkerSet
	Index       IndexConfig
	References  []labelReferenceFile
	Fingerprint string
}

type labelReferenceFile struct {
	Samples []string
	Values  []float64
}

// SaveReference writes a gzip-compressed gob encoding of tr to w.
func SaveReference(w io.Writer, tr *TrainedReference) error {
	bufw := bufio.NewWriterSize(w, 1<<20)
	gzw := pgzip.NewWriter(bufw)
	rf := referenceFile{
		Version:     referenceFileVersion,
		Genes:       tr.Genes,
		Labels:      tr.Labels,
		Markers:     *tr.Markers,
		Index:       tr.Index,
		Fingerprint: tr.fingerprint,
	}
	for _, ref := range tr.refs {
		rf.References = append(rf.References, labelReferenceFile{
			Samples: ref.samples,
			Values:  ref.raw.RawMatrix().Data,
		})
	}
	err := gob.NewEncoder(gzw).Encode(rf)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err = gzw.Close(); err != nil {
		return err
	}
	return bufw.Flush()
}

// LoadReference reads a reference written by SaveReference and
// rebuilds its neighbor indexes using the given number of threads
// (zero means GOMAXPROCS).
func LoadReference(r io.Reader, threads int) (*TrainedReference, error) {
	gzr, err := pgzip.NewReader(bufio.NewReaderSize(r, 1<<20))
	if err != nil {
		return nil, err
	}
	defer gzr.Close()
	var rf referenceFile
	if err = gob.NewDecoder(gzr).Decode(&rf); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	if rf.Version != referenceFileVersion {
		return nil, fmt.Errorf("%w: unsupported reference file version %d", ErrConfig, rf.Version)
	}
	if len(rf.References) != len(rf.Labels) {
		return nil, fmt.Errorf("%w: reference file has %d labels but %d label references", ErrConfig, len(rf.Labels), len(rf.References))
	}
	markers := rf.Markers
	if err = markers.Validate(); err != nil {
		return nil, err
	}
	if err = rf.Index.Validate(); err != nil {
		return nil, err
	}
	markers.index()
	tr := &TrainedReference{
		Genes:   rf.Genes,
		Labels:  rf.Labels,
		Markers: &markers,
		Index:   rf.Index,
		refs:    make([]labelReference, len(rf.Labels)),
	}
	for l, ref := range rf.References {
		if len(ref.Samples) == 0 || len(ref.Values) != len(ref.Samples)*len(rf.Genes) {
			return nil, fmt.Errorf("%w: label %q: %d values for %d genes x %d samples", ErrConfig, rf.Labels[l], len(ref.Values), len(rf.Genes), len(ref.Samples))
		}
		tr.refs[l] = labelReference{
			samples: ref.Samples,
			raw:     mat.NewDense(len(rf.Genes), len(ref.Samples), ref.Values),
		}
	}
	if err = tr.buildIndexes(threads); err != nil {
		return nil, err
	}
	tr.fingerprint = tr.computeFingerprint()
	if tr.fingerprint != rf.Fingerprint {
		return nil, fmt.Errorf("%w: reference fingerprint mismatch: file says %s, content is %s", ErrConfig, rf.Fingerprint, tr.fingerprint)
	}
	log.Infof("loaded reference %s: %d labels, %d genes", tr.fingerprint, len(tr.Labels), len(tr.Genes))
	return tr, nil
}
