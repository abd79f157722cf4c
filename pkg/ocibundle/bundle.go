// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package ocibundle converts an OCI image, in its on-disk image-layout
// form, into an OCI runtime bundle: an unpacked rootfs directory plus a
// config.json runtime specification.
package ocibundle

import (
	"io"

	imgspecv1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// BlobProvider serves blob content by descriptor. It is not expected to
// verify the descriptor's digest; that is the core's job.
type BlobProvider interface {
	ReadBlob(desc imgspecv1.Descriptor) (io.ReadCloser, error)
}

// gzipLayerMediaType is the only layer media type this package accepts.
// Any other media type on a layer descriptor is a fatal unpack error.
const gzipLayerMediaType = "application/vnd.oci.image.layer.v1.tar+gzip"

const whiteoutPrefix = ".wh."

const opaqueWhiteoutName = ".wh..wh..opq"
