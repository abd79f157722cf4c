// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package ocibundle

import (
	"strings"

	imgspecv1 "github.com/opencontainers/image-spec/specs-go/v1"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/opencontainers/runtime-tools/generate"
	"github.com/pkg/errors"
)

const (
	annotationOS           = "org.opencontainers.image.os"
	annotationArchitecture = "org.opencontainers.image.architecture"
	annotationVariant      = "org.opencontainers.image.variant"
	annotationOSVersion    = "org.opencontainers.image.os.version"
	annotationOSFeatures   = "org.opencontainers.image.os.features"
	annotationAuthor       = "org.opencontainers.image.author"
	annotationCreated      = "org.opencontainers.image.created"
	annotationStopSignal   = "org.opencontainers.image.stopSignal"
)

// buildRuntimeSpec translates an image configuration document into an
// OCI runtime specification. lookup resolves config.Config.User; a nil
// lookup uses the host identity database.
func buildRuntimeSpec(img imgspecv1.Image, lookup UserGroupLookup) (*specs.Spec, error) {
	g, err := generate.New("linux")
	if err != nil {
		return nil, errors.Wrap(err, "initializing runtime spec generator")
	}

	for k, v := range buildAnnotations(img) {
		g.AddAnnotation(k, v)
	}

	cfg := img.Config
	if cfg.WorkingDir != "" {
		g.SetProcessCwd(cfg.WorkingDir)
	}
	if args := processArgs(cfg.Entrypoint, cfg.Cmd); args != nil {
		g.SetProcessArgs(args)
	}
	g.Config.Process.Env = cfg.Env

	if cfg.User != "" {
		resolved, err := ResolveUser(cfg.User, lookup)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving user %q", cfg.User)
		}
		g.Config.Process.User = specs.User{
			UID:            resolved.UID,
			GID:            resolved.GID,
			AdditionalGids: resolved.AdditionalGIDs,
		}
	}

	return g.Config, nil
}

// buildAnnotations builds the org.opencontainers.image.* annotation map,
// merging in config.Config.Labels last so label keys override same-named
// annotations.
func buildAnnotations(img imgspecv1.Image) map[string]string {
	ann := map[string]string{
		annotationOS:           img.OS,
		annotationArchitecture: img.Architecture,
	}
	if img.Variant != "" {
		ann[annotationVariant] = img.Variant
	}
	if img.OSVersion != "" {
		ann[annotationOSVersion] = img.OSVersion
	}
	if len(img.OSFeatures) > 0 {
		ann[annotationOSFeatures] = strings.Join(img.OSFeatures, ",")
	}
	if img.Author != "" {
		ann[annotationAuthor] = img.Author
	}
	if img.Created != nil {
		ann[annotationCreated] = img.Created.Format("2006-01-02T15:04:05Z07:00")
	}
	if img.Config.StopSignal != "" {
		ann[annotationStopSignal] = img.Config.StopSignal
	}
	for k, v := range img.Config.Labels {
		ann[k] = v
	}
	return ann
}

// processArgs concatenates entrypoint and cmd, either of which may be
// absent. Returns nil when both are absent, leaving the generator's
// default process args in place.
func processArgs(entrypoint, cmd []string) []string {
	switch {
	case len(entrypoint) == 0 && len(cmd) == 0:
		return nil
	case len(entrypoint) == 0:
		return cmd
	case len(cmd) == 0:
		return entrypoint
	default:
		args := make([]string, 0, len(entrypoint)+len(cmd))
		args = append(args, entrypoint...)
		args = append(args, cmd...)
		return args
	}
}
