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
	"testing"

	imgspecv1 "github.com/opencontainers/image-spec/specs-go/v1"
	"gotest.tools/v3/assert"
)

// TestBuildRuntimeSpecConfigTranslation exercises the full image-config
// to process-block translation on a representative config.
func TestBuildRuntimeSpecConfigTranslation(t *testing.T) {
	f := newFakeLookup()
	addUser(f, "root", 0, 0)

	img := imgspecv1.Image{}
	img.OS = "linux"
	img.Architecture = "amd64"
	img.Config.Entrypoint = []string{"/bin/sh", "-c"}
	img.Config.Cmd = []string{"echo hi"}
	img.Config.Env = []string{"PATH=/usr/bin"}
	img.Config.WorkingDir = "/srv"
	img.Config.User = "0"
	img.Config.Labels = map[string]string{"k": "v"}

	spec, err := buildRuntimeSpec(img, f)
	assert.NilError(t, err)

	assert.DeepEqual(t, spec.Process.Args, []string{"/bin/sh", "-c", "echo hi"})
	assert.Equal(t, spec.Process.Cwd, "/srv")
	assert.Assert(t, containsString(spec.Process.Env, "PATH=/usr/bin"))
	assert.Equal(t, spec.Process.User.UID, uint32(0))
	assert.Equal(t, spec.Annotations["k"], "v")
}

// TestBuildAnnotationsLabelsOverride confirms labels win conflicts with
// same-named image annotations.
func TestBuildAnnotationsLabelsOverride(t *testing.T) {
	img := imgspecv1.Image{}
	img.OS = "linux"
	img.Architecture = "amd64"
	img.Config.Labels = map[string]string{
		annotationOS: "overridden",
	}

	ann := buildAnnotations(img)
	assert.Equal(t, ann[annotationOS], "overridden")
}

func TestProcessArgsMatrix(t *testing.T) {
	cases := []struct {
		name       string
		entrypoint []string
		cmd        []string
		want       []string
	}{
		{"both absent", nil, nil, nil},
		{"cmd only", nil, []string{"echo", "hi"}, []string{"echo", "hi"}},
		{"entrypoint only", []string{"/bin/sh"}, nil, []string{"/bin/sh"}},
		{"both present", []string{"/bin/sh", "-c"}, []string{"echo hi"}, []string{"/bin/sh", "-c", "echo hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := processArgs(tc.entrypoint, tc.cmd)
			assert.DeepEqual(t, got, tc.want)
		})
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
