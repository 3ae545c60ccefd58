// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"context"
	"flag"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type ClassifyParams struct {
	// Score is the correlation that this fraction of a label's
	// reference samples reach.
	Quantile float64
	// Fine-tuning keeps labels scoring within TuneThresh of the
	// best.
	TuneThresh float64
	FineTune   bool
	// Worker goroutines. Zero means GOMAXPROCS.
	Threads int
	// Test samples per unit of work.
	BatchSize int
}

func DefaultClassifyParams() ClassifyParams {
	return ClassifyParams{
		Quantile:   0.8,
		TuneThresh: 0.05,
		FineTune:   true,
		BatchSize:  256,
	}
}

func (p *ClassifyParams) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&p.Quantile, "quantile", 0.8, "score each label by the correlation reached by this `fraction` of its reference samples")
	flags.Float64Var(&p.TuneThresh, "tune-thresh", 0.05, "fine-tuning keeps labels scoring within this `delta` of the best")
	flags.BoolVar(&p.FineTune, "fine-tune", true, "refine labels using marker genes")
	flags.IntVar(&p.Threads, "threads", runtime.GOMAXPROCS(0), "number of worker `threads`")
	flags.IntVar(&p.BatchSize, "batch-size", 256, "test samples per unit of work")
}

func (p ClassifyParams) validate() error {
	if !(p.Quantile >= 0 && p.Quantile <= 1) {
		return fmt.Errorf("%w: quantile %g is not between 0 and 1", ErrConfig, p.Quantile)
	}
	if !(p.TuneThresh >= 0) {
		return fmt.Errorf("%w: tuning threshold %g is negative", ErrConfig, p.TuneThresh)
	}
	return nil
}

// PredictionResult is the outcome of Classify. Row i of every field
// refers to test sample i.
type PredictionResult struct {
	Scores *ScoreMatrix
	// Best coarse score, before fine-tuning.
	FirstLabels []string
	Labels      []string
	// Top two scores of the last fine-tuning step (nil if
	// fine-tuning was disabled).
	Tuning [][2]float64
	// Labels with low-confidence calls replaced by NoCall (nil
	// until ApplyPruning).
	PrunedLabels []string
	Fingerprint  string
}

// Classify assigns a label from ref to each sample of test. The test
// matrix must contain every gene in ref.Genes.
func Classify(ctx context.Context, test *ExpressionMatrix, ref *TrainedReference, params ClassifyParams) (*PredictionResult, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	common, err := test.Subset(ref.Genes)
	if err != nil {
		return nil, fmt.Errorf("test data does not match trained reference: %w", err)
	}
	threads := params.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultClassifyParams().BatchSize
	}

	nsamples := len(test.Samples)
	nlabels := len(ref.Labels)
	scoreData := make([]float64, nsamples*nlabels)
	res := &PredictionResult{
		FirstLabels: make([]string, nsamples),
		Labels:      make([]string, nsamples),
		Fingerprint: ref.fingerprint,
	}
	if params.FineTune {
		res.Tuning = make([][2]float64, nsamples)
	}

	log.WithFields(log.Fields{
		"samples": nsamples,
		"labels":  nlabels,
		"genes":   len(ref.Genes),
		"threads": threads,
	}).Info("classifying")
	t0 := time.Now()
	var done int64
	th := throttle{Max: threads}
	var dispatchErr error
	for start := 0; start < nsamples && dispatchErr == nil; start += batchSize {
		start, end := start, start+batchSize
		if end > nsamples {
			end = nsamples
		}
		dispatchErr = th.Go(ctx, func() error {
			err := classifyBatch(common, ref, params, start, end, scoreData, res)
			if err != nil {
				return err
			}
			n := atomic.AddInt64(&done, int64(end-start))
			log.Debugf("classified %d/%d samples", n, nsamples)
			return nil
		})
	}
	if err := th.Wait(); err != nil {
		return nil, err
	} else if dispatchErr != nil {
		return nil, dispatchErr
	}
	res.Scores = &ScoreMatrix{
		Samples: test.Samples,
		Labels:  ref.Labels,
		Data:    mat.NewDense(nsamples, nlabels, scoreData),
	}
	log.Infof("classified %d samples in %v", nsamples, time.Since(t0).Round(time.Millisecond))
	return res, nil
}

// classifyBatch fills rows start..end-1 of scoreData and res.
func classifyBatch(common *ExpressionMatrix, ref *TrainedReference, params ClassifyParams, start, end int, scoreData []float64, res *PredictionResult) error {
	nlabels := len(ref.Labels)
	cols := make([]int, end-start)
	for i := range cols {
		cols[i] = start + i
	}
	batch := common.Columns(cols)
	ranked := columns(RankTransform(batch.Data))
	rows := make([][]float64, len(cols))
	for i := range rows {
		rows[i] = scoreData[(start+i)*nlabels : (start+i+1)*nlabels]
	}
	ref.scoreColumns(ranked, params.Quantile, rows)

	ft := fineTuner{ref: ref, quantile: params.Quantile, delta: params.TuneThresh}
	for i, row := range rows {
		first := floats.MaxIdx(row)
		res.FirstLabels[start+i] = ref.Labels[first]
		if !params.FineTune {
			res.Labels[start+i] = ref.Labels[first]
			continue
		}
		best, tuning, err := ft.run(batch.Column(i), append([]float64(nil), row...))
		if err != nil {
			return fmt.Errorf("sample %q: %w", batch.Samples[i], err)
		}
		res.Labels[start+i] = ref.Labels[best]
		res.Tuning[start+i] = tuning
	}
	return nil
}

// TuneSteps returns every fine-tuning state for one test sample,
// given its values over ref.Genes (in order) and its coarse scores.
func (tr *TrainedReference) TuneSteps(sample, coarse []float64, quantile, delta float64) ([]TuneState, error) {
	var steps []TuneState
	ft := fineTuner{ref: tr, quantile: quantile, delta: delta, trace: func(st TuneState) {
		steps = append(steps, st)
	}}
	_, _, err := ft.run(sample, coarse)
	return steps, err
}
