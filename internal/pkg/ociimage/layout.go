// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package ociimage provides access to blobs in an on-disk OCI
// image-layout directory. Only the local layout source is supported;
// fetching images over the network is out of scope.
package ociimage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	imgspecv1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
)

// LayoutProvider serves blobs out of an on-disk OCI image-layout
// directory. It implements ocibundle.BlobProvider without importing
// that package, so ocibundle stays free of a go-containerregistry
// dependency of its own.
type LayoutProvider struct {
	path layout.Path
}

// NewLayoutProvider opens dir as an OCI image-layout directory.
func NewLayoutProvider(dir string) (*LayoutProvider, error) {
	p, err := layout.FromPath(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image layout at %s", dir)
	}
	return &LayoutProvider{path: p}, nil
}

// ReadBlob opens the blob named by desc's digest.
func (l *LayoutProvider) ReadBlob(desc imgspecv1.Descriptor) (io.ReadCloser, error) {
	h, err := v1.NewHash(desc.Digest.String())
	if err != nil {
		return nil, errors.Wrapf(err, "parsing digest %s", desc.Digest)
	}
	rc, err := l.path.Blob(h)
	if err != nil {
		return nil, errors.Wrapf(err, "reading blob %s", desc.Digest)
	}
	return rc, nil
}

// ReadManifest loads and decodes the single-image manifest at dir,
// following the layout's index.json to the first manifest descriptor.
func ReadManifest(dir string) (imgspecv1.Manifest, error) {
	var manifest imgspecv1.Manifest

	idxPath := dir + "/index.json"
	f, err := os.Open(idxPath)
	if err != nil {
		return manifest, errors.Wrapf(err, "opening %s", idxPath)
	}
	defer f.Close()

	var idx imgspecv1.Index
	if err := json.NewDecoder(f).Decode(&idx); err != nil {
		return manifest, errors.Wrap(err, "decoding image index")
	}
	if len(idx.Manifests) == 0 {
		return manifest, errors.New("image index contains no manifests")
	}

	provider, err := NewLayoutProvider(dir)
	if err != nil {
		return manifest, err
	}
	rc, err := provider.ReadBlob(idx.Manifests[0])
	if err != nil {
		return manifest, errors.Wrap(err, "reading manifest blob")
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
		return manifest, errors.Wrap(err, "decoding manifest")
	}
	return manifest, nil
}
