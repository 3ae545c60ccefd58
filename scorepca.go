// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// scorePCA projects a score matrix (samples x labels, as written by
// classify -scores-npy) onto its principal components, for plotting
// elsewhere.
type scorePCA struct{}

func (cmd *scorePCA) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input score matrix `file` (numpy)")
	outputFilename := flags.String("o", "-", "output `file` (numpy)")
	components := flags.Int("components", 2, "number of components")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	input, err := zopen(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	defer input.Close()
	scores, err := readNumpyMatrix(input)
	if err != nil {
		return 1
	}
	input.Close()

	rows, cols := scores.Dims()
	if *components < 1 || *components > cols {
		err = fmt.Errorf("-components=%d must be between 1 and the number of labels (%d)", *components, cols)
		return 2
	}
	log.Printf("fitting: %d samples, %d labels", rows, cols)
	var out *mat.Dense
	out, err = projectScores(scores, *components)
	if err != nil {
		return 1
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	rows, cols = out.Dims()
	npw.Shape = []int{rows, cols}
	log.Printf("writing numpy: %d rows, %d cols", rows, cols)
	if err = npw.WriteFloat64(out.RawMatrix().Data); err != nil {
		return 1
	}
	if err = bufw.Flush(); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	return 0
}

// projectScores returns the samples x components projection of a
// samples x labels score matrix.
func projectScores(scores mat.Matrix, components int) (*mat.Dense, error) {
	rows, _ := scores.Dims()
	if rows < 2 {
		return nil, errors.New("need at least 2 samples for PCA")
	}
	transformer := nlp.NewPCA(components)
	// nlp wants one column per sample
	transformer.Fit(scores.T())
	projected, err := transformer.Transform(scores.T())
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(projected.T()), nil
}
