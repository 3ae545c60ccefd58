// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"

	log "github.com/sirupsen/logrus"
)

type classifyCmd struct {
	params      ClassifyParams
	pruneParams PruneParams
	batchArgs   batchArgs
}

func (cmd *classifyCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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

func (cmd *classifyCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "test matrix `file` (genes x samples, tsv/csv, optionally .gz)")
	refFilename := flags.String("ref", "", "trained reference `file` (output of train)")
	outputFilename := flags.String("o", "-", "output `file` (tsv)")
	scoresFilename := flags.String("scores-npy", "", "also write score matrix to numpy `file`")
	prune := flags.Bool("prune", true, "flag low-confidence assignments in pruned.label column")
	cmd.params.Flags(flags)
	cmd.pruneParams.Flags(flags)
	cmd.batchArgs.Flags(flags)
	err := flags.Parse(args)
	if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("%w: errant command line arguments after parsed flags: %v", errUsage, flags.Args())
	} else if *refFilename == "" {
		return fmt.Errorf("%w: -ref is required", errUsage)
	} else if err = cmd.batchArgs.validate(); err != nil {
		return err
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	ref, err := loadReferenceFile(*refFilename, cmd.params.Threads)
	if err != nil {
		return err
	}

	test, err := readMatrixFile(*inputFilename, stdin)
	if err != nil {
		return err
	}
	if start, end := cmd.batchArgs.Range(len(test.Samples)); end-start < len(test.Samples) {
		if start == end {
			return fmt.Errorf("%w: batch %d of %d is empty (%d samples)", errUsage, cmd.batchArgs.batch, cmd.batchArgs.batches, len(test.Samples))
		}
		log.Infof("batch %d/%d: samples %d-%d", cmd.batchArgs.batch, cmd.batchArgs.batches, start, end-1)
		cols := make([]int, end-start)
		for i := range cols {
			cols[i] = start + i
		}
		test = test.Columns(cols)
	}

	res, err := Classify(context.Background(), test, ref, cmd.params)
	if err != nil {
		return err
	}
	if *prune {
		res.ApplyPruning(cmd.pruneParams)
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
	if err = WriteResult(output, res); err != nil {
		return err
	}
	if err = output.Close(); err != nil {
		return err
	}

	if *scoresFilename != "" {
		log.Infof("writing score matrix to %s", *scoresFilename)
		npyf, err := os.Create(*scoresFilename)
		if err != nil {
			return err
		}
		defer npyf.Close()
		if err = WriteScoresNumpy(npyf, res.Scores); err != nil {
			return err
		}
		return npyf.Close()
	}
	return nil
}

// loadReferenceFile reads a reference written by train. The file is
// always compressed (whatever its name) and LoadReference does the
// decompression, so it is opened without zopen.
func loadReferenceFile(fnm string, threads int) (*TrainedReference, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	log.Infof("loading trained reference %s", fnm)
	ref, err := LoadReference(f, threads)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return ref, nil
}
