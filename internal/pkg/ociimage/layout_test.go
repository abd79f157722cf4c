// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package ociimage

import (
	"io"
	"testing"

	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"gotest.tools/v3/assert"
)

func TestLayoutProviderReadBlob(t *testing.T) {
	dir := t.TempDir()

	img, err := random.Image(256, 2)
	assert.NilError(t, err)

	path, err := layout.Write(dir, empty.Index)
	assert.NilError(t, err)
	assert.NilError(t, path.AppendImage(img))

	manifest, err := ReadManifest(dir)
	assert.NilError(t, err)
	assert.Equal(t, len(manifest.Layers), 2)

	provider, err := NewLayoutProvider(dir)
	assert.NilError(t, err)

	for _, l := range manifest.Layers {
		rc, err := provider.ReadBlob(l)
		assert.NilError(t, err)
		n, err := io.Copy(io.Discard, rc)
		assert.NilError(t, err)
		assert.Equal(t, n, l.Size)
		assert.NilError(t, rc.Close())
	}
}
