// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"bufio"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"
)

// zopen returns a reader for the given file ("-" means stdin),
// transparently decompressing the input if fnm ends with ".gz".
func zopen(fnm string, stdin io.Reader) (io.ReadCloser, error) {
	var f io.ReadCloser
	if fnm == "-" {
		f = ioutil.NopCloser(stdin)
	} else {
		var err error
		f, err = os.Open(fnm)
		if err != nil {
			return nil, err
		}
	}
	if !strings.HasSuffix(fnm, ".gz") {
		return f, nil
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// lineReader splits delimited text into fields. The delimiter is a
// tab if the first line contains one, otherwise a comma.
type lineReader struct {
	r      *bufio.Reader
	delim  string
	lineNo int
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// next returns the fields of the next non-blank, non-comment line,
// or io.EOF.
func (lr *lineReader) next() ([]string, error) {
	for {
		line, err := lr.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, err
		}
		lr.lineNo++
		line = strings.TrimRight(line, "\r\n")
		if line == "" || line[0] == '#' {
			if err == io.EOF {
				return nil, err
			}
			continue
		}
		if lr.delim == "" {
			if strings.Contains(line, "\t") {
				lr.delim = "\t"
			} else {
				lr.delim = ","
			}
		}
		fields := strings.Split(line, lr.delim)
		for i, f := range fields {
			fields[i] = strings.Trim(f, `" `)
		}
		return fields, nil
	}
}

// ReadMatrix reads a genes x samples matrix. The first line lists
// sample IDs after one leading field; each subsequent line is a gene
// ID followed by one value per sample. "NA" and blank values are read
// as NaN.
func ReadMatrix(r io.Reader) (*ExpressionMatrix, error) {
	lr := newLineReader(r)
	header, err := lr.next()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty matrix file", ErrConfig)
	} else if err != nil {
		return nil, err
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: matrix header line has no sample IDs", ErrConfig)
	}
	samples := header[1:]
	var genes []string
	var data []float64
	for {
		fields, err := lr.next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if len(fields) != len(samples)+1 {
			return nil, fmt.Errorf("%w: line %d: %d fields, expected %d", ErrConfig, lr.lineNo, len(fields), len(samples)+1)
		}
		genes = append(genes, fields[0])
		for _, s := range fields[1:] {
			if s == "" || s == "NA" {
				data = append(data, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s", ErrConfig, lr.lineNo, err)
			}
			data = append(data, v)
		}
	}
	if len(genes) == 0 {
		return nil, fmt.Errorf("%w: matrix must have row names (no genes found)", ErrConfig)
	}
	return NewExpressionMatrix(genes, samples, mat.NewDense(len(genes), len(samples), data))
}

// ReadLabels reads "sample<TAB>label" lines and returns the label of
// each sample in m, in column order. A "sample<TAB>label" header line
// is skipped.
func ReadLabels(r io.Reader, m *ExpressionMatrix) ([]string, error) {
	lr := newLineReader(r)
	bySample := map[string]string{}
	for {
		fields, err := lr.next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: labels line %d: %d fields, expected 2", ErrConfig, lr.lineNo, len(fields))
		}
		if lr.lineNo == 1 && strings.EqualFold(fields[0], "sample") && strings.EqualFold(fields[1], "label") {
			continue
		}
		if _, dup := bySample[fields[0]]; dup {
			return nil, fmt.Errorf("%w: labels line %d: duplicate sample %q", ErrConfig, lr.lineNo, fields[0])
		}
		bySample[fields[0]] = fields[1]
	}
	labels := make([]string, len(m.Samples))
	for i, s := range m.Samples {
		l, ok := bySample[s]
		if !ok {
			return nil, fmt.Errorf("%w: no label for sample %q", ErrConfig, s)
		}
		labels[i] = l
	}
	return labels, nil
}

// ReadMarkers reads user-supplied markers. Every line is either
// "label<TAB>gene" (per-label markers) or "label<TAB>other<TAB>gene"
// (label's markers against other); mixing the two is an error. In
// pairwise files a line with an empty gene declares a pair with no
// markers, and each label's entry against itself is implied.
func ReadMarkers(r io.Reader) (FeatureSpec, error) {
	lr := newLineReader(r)
	pairwise := PairwiseMarkers{}
	perLabel := PerLabelMarkers{}
	width := 0
	for {
		fields, err := lr.next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if len(fields) != 2 && len(fields) != 3 {
			return nil, fmt.Errorf("%w: markers line %d: %d fields, expected 2 or 3", ErrConfig, lr.lineNo, len(fields))
		}
		if width == 0 {
			width = len(fields)
		} else if width != len(fields) {
			return nil, fmt.Errorf("%w: markers line %d: mixed-type marker lists (per-label and pairwise)", ErrConfig, lr.lineNo)
		}
		if width == 2 {
			perLabel[fields[0]] = appendGene(perLabel[fields[0]], fields[1])
			continue
		}
		a, b, gene := fields[0], fields[1], fields[2]
		if pairwise[a] == nil {
			pairwise[a] = map[string][]string{a: nil}
		}
		pairwise[a][b] = appendGene(pairwise[a][b], gene)
	}
	switch width {
	case 2:
		return perLabel, nil
	case 3:
		return pairwise, nil
	default:
		return nil, fmt.Errorf("%w: no markers found", ErrConfig)
	}
}

// appendGene returns genes with gene appended, or an empty (non-nil)
// slice if gene is blank.
func appendGene(genes []string, gene string) []string {
	if genes == nil {
		genes = []string{}
	}
	if gene == "" {
		return genes
	}
	return append(genes, gene)
}

const resultFixedColumns = 6

// WriteResult writes one tab-separated line per test sample: sample
// ID, first-pass label, final label, pruned label, fine-tuning best
// and next scores, then one score per label. Missing labels and
// scores are written as NA.
func WriteResult(w io.Writer, res *PredictionResult) error {
	bufw := bufio.NewWriterSize(w, 1<<20)
	fmt.Fprintf(bufw, "sample\tfirst.label\tlabel\tpruned.label\ttuning.best\ttuning.next\t%s\n", strings.Join(res.Scores.Labels, "\t"))
	for i, sample := range res.Scores.Samples {
		pruned := "NA"
		if res.PrunedLabels != nil && res.PrunedLabels[i] != NoCall {
			pruned = res.PrunedLabels[i]
		}
		tuning := [2]float64{math.NaN(), math.NaN()}
		if res.Tuning != nil {
			tuning = res.Tuning[i]
		}
		fmt.Fprintf(bufw, "%s\t%s\t%s\t%s\t%s\t%s", sample, res.FirstLabels[i], res.Labels[i], pruned, formatScore(tuning[0]), formatScore(tuning[1]))
		for _, v := range res.Scores.Data.RawRowView(i) {
			fmt.Fprintf(bufw, "\t%s", formatScore(v))
		}
		if _, err := bufw.WriteString("\n"); err != nil {
			return err
		}
	}
	return bufw.Flush()
}

func formatScore(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseScore(s string) (float64, error) {
	if s == "NA" || s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ReadResult reads a file written by WriteResult. Tuning is nil if
// every tuning column is NA. The pruned.label column is not read back
// (PrunedLabels is nil); call ApplyPruning to recompute it.
func ReadResult(r io.Reader) (*PredictionResult, error) {
	lr := newLineReader(r)
	header, err := lr.next()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty result file", ErrConfig)
	} else if err != nil {
		return nil, err
	}
	if len(header) <= resultFixedColumns || header[0] != "sample" {
		return nil, fmt.Errorf("%w: result header does not look right: %q", ErrConfig, strings.Join(header, "\t"))
	}
	labels := header[resultFixedColumns:]
	res := &PredictionResult{}
	var samples []string
	var data []float64
	haveTuning := false
	for {
		fields, err := lr.next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if len(fields) != len(header) {
			return nil, fmt.Errorf("%w: result line %d: %d fields, expected %d", ErrConfig, lr.lineNo, len(fields), len(header))
		}
		samples = append(samples, fields[0])
		res.FirstLabels = append(res.FirstLabels, fields[1])
		res.Labels = append(res.Labels, fields[2])
		var tuning [2]float64
		for k := range tuning {
			if tuning[k], err = parseScore(fields[4+k]); err != nil {
				return nil, fmt.Errorf("%w: result line %d: %s", ErrConfig, lr.lineNo, err)
			}
		}
		if !math.IsNaN(tuning[0]) {
			haveTuning = true
		}
		res.Tuning = append(res.Tuning, tuning)
		for _, s := range fields[resultFixedColumns:] {
			v, err := parseScore(s)
			if err != nil {
				return nil, fmt.Errorf("%w: result line %d: %s", ErrConfig, lr.lineNo, err)
			}
			data = append(data, v)
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: result file has no samples", ErrConfig)
	}
	if !haveTuning {
		res.Tuning = nil
	}
	res.Scores = &ScoreMatrix{
		Samples: samples,
		Labels:  labels,
		Data:    mat.NewDense(len(samples), len(labels), data),
	}
	return res, nil
}

// WriteScoresNumpy writes the score matrix (samples x labels) in
// numpy .npy format.
func WriteScoresNumpy(w io.Writer, scores *ScoreMatrix) error {
	rows, cols := scores.Data.Dims()
	bufw := bufio.NewWriter(w)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	npw.Shape = []int{rows, cols}
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, scores.Data.RawRowView(i)...)
	}
	if err = npw.WriteFloat64(out); err != nil {
		return err
	}
	return bufw.Flush()
}

// readNumpyMatrix reads a 2-dimensional float64 numpy array.
func readNumpyMatrix(r io.Reader) (*mat.Dense, error) {
	npy, err := gonpy.NewReader(r)
	if err != nil {
		return nil, err
	}
	if len(npy.Shape) != 2 {
		return nil, fmt.Errorf("%w: expected 2-dimensional array, got shape %v", ErrConfig, npy.Shape)
	}
	data, err := npy.GetFloat64()
	if err != nil {
		return nil, err
	}
	return mat.NewDense(npy.Shape[0], npy.Shape[1], data), nil
}
