// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package celltyper

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

type pruneCmd struct {
	params PruneParams
}

func (cmd *pruneCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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

func (cmd *pruneCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "classification result `file` (output of classify)")
	outputFilename := flags.String("o", "-", "output `file`")
	cmd.params.Flags(flags)
	err := flags.Parse(args)
	if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("%w: errant command line arguments after parsed flags: %v", errUsage, flags.Args())
	}

	f, err := zopen(*inputFilename, stdin)
	if err != nil {
		return err
	}
	res, err := ReadResult(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", *inputFilename, err)
	}
	res.ApplyPruning(cmd.params)

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
	return output.Close()
}
