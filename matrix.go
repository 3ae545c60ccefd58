// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"errors"
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrConfig is wrapped by every error caused by invalid
	// parameters or malformed inputs. Such errors are detected
	// before any parallel work starts.
	ErrConfig = errors.New("configuration error")

	// ErrMissingGenes is wrapped by errors reporting that a matrix
	// lacks genes required by a trained reference.
	ErrMissingGenes = errors.New("missing genes")
)

// ExpressionMatrix is a genes x samples matrix of (typically
// log-scale) expression values.
type ExpressionMatrix struct {
	Genes   []string
	Samples []string
	Data    *mat.Dense

	geneRow map[string]int
}

// NewExpressionMatrix checks that gene and sample identifiers are
// present and unique, and that data dimensions match them.
func NewExpressionMatrix(genes, samples []string, data *mat.Dense) (*ExpressionMatrix, error) {
	if len(genes) == 0 {
		return nil, fmt.Errorf("%w: matrix must have row names", ErrConfig)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: matrix has no data", ErrConfig)
	}
	rows, cols := data.Dims()
	if rows != len(genes) || cols != len(samples) {
		return nil, fmt.Errorf("%w: matrix is %d x %d but has %d row names and %d column names", ErrConfig, rows, cols, len(genes), len(samples))
	}
	geneRow := make(map[string]int, len(genes))
	for i, g := range genes {
		if g == "" {
			return nil, fmt.Errorf("%w: matrix must have row names (row %d is blank)", ErrConfig, i)
		}
		if prev, dup := geneRow[g]; dup {
			return nil, fmt.Errorf("%w: duplicate gene %q in rows %d and %d", ErrConfig, g, prev, i)
		}
		geneRow[g] = i
	}
	seen := make(map[string]bool, len(samples))
	for i, s := range samples {
		if s == "" {
			return nil, fmt.Errorf("%w: matrix must have column names (column %d is blank)", ErrConfig, i)
		}
		if seen[s] {
			return nil, fmt.Errorf("%w: duplicate sample %q", ErrConfig, s)
		}
		seen[s] = true
	}
	return &ExpressionMatrix{
		Genes:   genes,
		Samples: samples,
		Data:    data,
		geneRow: geneRow,
	}, nil
}

// GeneRow returns the row index of the given gene.
func (m *ExpressionMatrix) GeneRow(gene string) (int, bool) {
	row, ok := m.geneRow[gene]
	return row, ok
}

// Subset returns a new matrix with the given genes, in the given
// order. It fails with ErrMissingGenes if any gene is absent.
func (m *ExpressionMatrix) Subset(genes []string) (*ExpressionMatrix, error) {
	rows := make([]int, len(genes))
	var missing []string
	for i, g := range genes {
		row, ok := m.GeneRow(g)
		if !ok {
			missing = append(missing, g)
			continue
		}
		rows[i] = row
	}
	if len(missing) > 0 {
		example := missing
		if len(example) > 5 {
			example = example[:5]
		}
		return nil, fmt.Errorf("%w: %d of %d required genes not found (e.g., %s)", ErrMissingGenes, len(missing), len(genes), strings.Join(example, ", "))
	}
	return m.selectRows(genes, rows)
}

// Intersect returns the genes from the given list that are present
// in m, preserving order.
func (m *ExpressionMatrix) Intersect(genes []string) []string {
	var out []string
	for _, g := range genes {
		if _, ok := m.GeneRow(g); ok {
			out = append(out, g)
		}
	}
	return out
}

func (m *ExpressionMatrix) selectRows(genes []string, rows []int) (*ExpressionMatrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty gene subset", ErrConfig)
	}
	_, cols := m.Data.Dims()
	data := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		data.SetRow(i, m.Data.RawRowView(row))
	}
	return NewExpressionMatrix(append([]string(nil), genes...), m.Samples, data)
}

// Columns returns a new matrix with only the given sample columns.
func (m *ExpressionMatrix) Columns(cols []int) *ExpressionMatrix {
	rows, _ := m.Data.Dims()
	samples := make([]string, len(cols))
	data := mat.NewDense(rows, len(cols), nil)
	for j, col := range cols {
		samples[j] = m.Samples[col]
		for i := 0; i < rows; i++ {
			data.Set(i, j, m.Data.At(i, col))
		}
	}
	return &ExpressionMatrix{
		Genes:   m.Genes,
		Samples: samples,
		Data:    data,
		geneRow: m.geneRow,
	}
}

// Column returns a copy of the values in sample column j.
func (m *ExpressionMatrix) Column(j int) []float64 {
	return mat.Col(nil, j, m.Data)
}

// DropMissing returns a matrix without the rows that contain NaN or
// infinite values. Dropped rows are logged as a warning, not treated
// as an error.
func (m *ExpressionMatrix) DropMissing() (*ExpressionMatrix, error) {
	var genes []string
	var rows []int
	for i, g := range m.Genes {
		ok := true
		for _, v := range m.Data.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
		}
		if ok {
			genes = append(genes, g)
			rows = append(rows, i)
		}
	}
	if len(rows) == len(m.Genes) {
		return m, nil
	}
	log.Warnf("dropping %d of %d genes with missing values", len(m.Genes)-len(rows), len(m.Genes))
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: every gene has missing values", ErrConfig)
	}
	return m.selectRows(genes, rows)
}
