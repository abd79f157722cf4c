// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cli

import (
	"fmt"

	units "github.com/docker/go-units"
	"github.com/opencontainers/runtime-tools/validate"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sylabs/ocibundle/internal/pkg/ociimage"
	"github.com/sylabs/ocibundle/pkg/ocibundle"
	"github.com/sylabs/ocibundle/pkg/sylog"
)

func unpackCommand() *cobra.Command {
	var skipValidate bool
	var reconcilePasswd bool

	cmd := &cobra.Command{
		Use:   "unpack <image-layout-dir> <bundle-dir>",
		Short: "Unpack an OCI image layout into a runtime bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageDir, bundleDir := args[0], args[1]

			manifest, err := ociimage.ReadManifest(imageDir)
			if err != nil {
				return errors.Wrap(err, "reading manifest")
			}

			provider, err := ociimage.NewLayoutProvider(imageDir)
			if err != nil {
				return err
			}

			var total int64
			for _, l := range manifest.Layers {
				total += l.Size
			}
			sylog.Infof("unpacking %d layers (%s) to %s", len(manifest.Layers), units.HumanSize(float64(total)), bundleDir)

			if err := ocibundle.Unpack(manifest, provider, bundleDir, ocibundle.Options{
				ReconcilePasswd: reconcilePasswd,
			}); err != nil {
				return errors.Wrap(err, "unpacking image")
			}

			if !skipValidate {
				v, err := validate.NewValidatorFromPath(bundleDir, false, "linux")
				if err != nil {
					return errors.Wrap(err, "creating bundle validator")
				}
				if err := v.CheckAll(); err != nil {
					return errors.Wrap(err, "bundle failed validation")
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "bundle ready at %s\n", bundleDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipValidate, "skip-validate", false, "skip runtime-tools validation of the produced bundle")
	cmd.Flags().BoolVar(&reconcilePasswd, "reconcile-passwd", false, "synthesize /etc/passwd and /etc/group entries for the resolved user if missing")
	return cmd
}
