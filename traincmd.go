// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
)

type trainCmd struct {
	params TrainParams
}

func (cmd *trainCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	} else if errors.Is(err, errUsage) {
		fmt.Fprintf(stderr, "%s\n", err)
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

// errUsage is wrapped by command line errors.
var errUsage = errors.New("usage error")

func (cmd *trainCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "reference matrix `file` (genes x samples, tsv/csv, optionally .gz)")
	labelsFilename := flags.String("labels", "", "reference labels `file` (sample<TAB>label)")
	outputFilename := flags.String("o", "-", "output `file` for trained reference")
	genes := flags.String("genes", ModeDE, "gene selection `mode`: de, sd or all (ignored with -markers)")
	markersFilename := flags.String("markers", "", "use marker genes from `file` (label<TAB>gene or label<TAB>other<TAB>gene)")
	restrictFilename := flags.String("restrict", "", "only use genes listed in `file` (one per line)")
	flags.IntVar(&cmd.params.DENumber, "de-n", 0, "marker genes per label pair in de mode (0 = 500*(2/3)^log2(labels))")
	flags.Float64Var(&cmd.params.SDThresh, "sd-thresh", 1, "standard deviation `threshold` across label medians in sd mode")
	flags.IntVar(&cmd.params.Threads, "threads", runtime.GOMAXPROCS(0), "number of worker `threads`")
	cmd.params.Index.Flags(flags)
	err := flags.Parse(args)
	if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("%w: errant command line arguments after parsed flags: %v", errUsage, flags.Args())
	} else if *labelsFilename == "" {
		return fmt.Errorf("%w: -labels is required", errUsage)
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	ref, err := readMatrixFile(*inputFilename, stdin)
	if err != nil {
		return err
	}
	labels, err := readLabelsFile(*labelsFilename, ref)
	if err != nil {
		return err
	}

	var spec FeatureSpec = ModeSpec(*genes)
	if *markersFilename != "" {
		f, err := zopen(*markersFilename, nil)
		if err != nil {
			return err
		}
		spec, err = ReadMarkers(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", *markersFilename, err)
		}
	}
	if *restrictFilename != "" {
		cmd.params.Restrict, err = readGeneList(*restrictFilename)
		if err != nil {
			return err
		}
	}

	log.Info("training")
	tr, err := Train(ref, labels, spec, cmd.params)
	if err != nil {
		return err
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return err
		}
		defer output.Close()
	}
	log.Infof("writing trained reference to %s", *outputFilename)
	if err = SaveReference(output, tr); err != nil {
		return err
	}
	return output.Close()
}

// readMatrixFile reads an expression matrix and drops genes with
// missing values.
func readMatrixFile(fnm string, stdin io.Reader) (*ExpressionMatrix, error) {
	f, err := zopen(fnm, stdin)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	log.Infof("reading %s", fnm)
	m, err := ReadMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	log.Infof("%s: %d genes x %d samples", fnm, len(m.Genes), len(m.Samples))
	return m.DropMissing()
}

func readLabelsFile(fnm string, m *ExpressionMatrix) ([]string, error) {
	f, err := zopen(fnm, nil)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	labels, err := ReadLabels(f, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return labels, nil
}

func readGeneList(fnm string) ([]string, error) {
	f, err := zopen(fnm, nil)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lr := newLineReader(f)
	var genes []string
	for {
		fields, err := lr.next()
		if err == io.EOF {
			return genes, nil
		} else if err != nil {
			return nil, err
		}
		genes = append(genes, fields[0])
	}
}
