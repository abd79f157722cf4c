// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cli implements the ocibundle command-line wrapper around
// pkg/ocibundle.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/sylabs/ocibundle/pkg/sylog"
)

var debug bool

// Root returns the top-level ocibundle command.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:           "ocibundle",
		Short:         "Convert an OCI image layout into an OCI runtime bundle",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				sylog.SetLevel(int(sylog.DebugLevel), true)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	root.AddCommand(unpackCommand())
	return root
}
