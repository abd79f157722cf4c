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
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	imgspecv1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"

	"github.com/sylabs/ocibundle/pkg/sylog"
)

// Options configures an Unpack call beyond its required arguments.
type Options struct {
	// Lookup resolves config.Config.User. Nil uses the host identity
	// database.
	Lookup UserGroupLookup
	// ReconcilePasswd additionally synthesizes /etc/passwd and
	// /etc/group entries for the resolved user inside the unpacked
	// rootfs when they're missing (see passwd.go). Off by default since
	// it is a supplement to, not a requirement of, the core unpack.
	ReconcilePasswd bool
}

// Unpack converts an OCI image into a runtime bundle at bundlePath: a
// rootfs/ directory built by applying manifest's layers in order, and a
// config.json holding the runtime specification translated from the
// image's configuration blob.
func Unpack(manifest imgspecv1.Manifest, provider BlobProvider, bundlePath string, opts Options) error {
	img, err := loadImageConfig(manifest, provider)
	if err != nil {
		return errors.Wrap(err, "loading image configuration")
	}

	if len(manifest.Layers) != len(img.RootFS.DiffIDs) {
		return errors.Errorf("manifest has %d layers but config has %d diff-ids", len(manifest.Layers), len(img.RootFS.DiffIDs))
	}
	for _, l := range manifest.Layers {
		if l.MediaType != gzipLayerMediaType {
			return errors.Errorf("unsupported layer media type %q", l.MediaType)
		}
	}

	rootfs, err := prepareBundle(bundlePath)
	if err != nil {
		return errors.Wrap(err, "preparing bundle directory")
	}

	for i, desc := range manifest.Layers {
		if err := applyLayer(provider, desc, img.RootFS.DiffIDs[i], rootfs); err != nil {
			return errors.Wrapf(err, "applying layer %d (%s)", i, desc.Digest)
		}
	}

	spec, err := buildRuntimeSpec(img, opts.Lookup)
	if err != nil {
		return errors.Wrap(err, "translating image configuration")
	}
	if err := writeRuntimeSpec(bundlePath, spec); err != nil {
		return errors.Wrap(err, "writing runtime spec")
	}

	if opts.ReconcilePasswd && img.Config.User != "" {
		resolved, err := ResolveUser(img.Config.User, opts.Lookup)
		if err != nil {
			return errors.Wrap(err, "resolving user for passwd reconciliation")
		}
		if err := reconcilePasswdAndGroup(rootfs, resolved, opts.Lookup); err != nil {
			sylog.Warningf("passwd/group reconciliation skipped: %v", err)
		}
	}

	return nil
}

func loadImageConfig(manifest imgspecv1.Manifest, provider BlobProvider) (imgspecv1.Image, error) {
	var img imgspecv1.Image
	rc, err := provider.ReadBlob(manifest.Config)
	if err != nil {
		return img, errors.Wrap(err, "reading config blob")
	}
	defer rc.Close()

	dr := newDigestingReader(rc)
	if err := json.NewDecoder(dr).Decode(&img); err != nil {
		return img, errors.Wrap(err, "decoding config blob")
	}
	got, err := dr.finish()
	if err != nil {
		return img, errors.Wrap(err, "finalizing config digest")
	}
	if got != manifest.Config.Digest {
		return img, errors.Errorf("config digest mismatch: expected %s, got %s", manifest.Config.Digest, got)
	}
	return img, nil
}

// prepareBundle unconditionally rebuilds bundlePath/rootfs. The bundle
// is never atomically constructed or incrementally reused; a failed
// unpack is recovered by the next invocation's removal here.
func prepareBundle(bundlePath string) (string, error) {
	if err := os.RemoveAll(bundlePath); err != nil {
		return "", err
	}
	rootfs := filepath.Join(bundlePath, "rootfs")
	if err := os.MkdirAll(rootfs, 0o755); err != nil {
		return "", err
	}
	return rootfs, nil
}

// applyLayer runs the per-layer pipeline: blob stream -> outer digester
// -> gunzip -> inner digester -> tar reader -> extractor, then verifies
// both digests after extraction completes. The inner digester must be
// finalized before the outer one so the gunzip drain is observed by the
// compressed-stream digest.
func applyLayer(provider BlobProvider, desc imgspecv1.Descriptor, expectedDiffID digest.Digest, rootfs string) error {
	blob, err := provider.ReadBlob(desc)
	if err != nil {
		return errors.Wrap(err, "reading layer blob")
	}
	defer blob.Close()

	outer := newDigestingReader(blob)
	gz, err := gzip.NewReader(outer)
	if err != nil {
		return errors.Wrap(err, "opening gzip stream")
	}
	defer gz.Close()
	inner := newDigestingReader(gz)

	if err := extractLayer(tar.NewReader(inner), rootfs); err != nil {
		return errors.Wrap(err, "extracting layer")
	}

	diffID, err := inner.finish()
	if err != nil {
		return errors.Wrap(err, "finalizing diff-id digest")
	}
	if diffID != expectedDiffID {
		return errors.Errorf("diff-id mismatch: expected %s, got %s", expectedDiffID, diffID)
	}

	layerDigest, err := outer.finish()
	if err != nil {
		return errors.Wrap(err, "finalizing layer digest")
	}
	if layerDigest != desc.Digest {
		return errors.Errorf("layer digest mismatch: expected %s, got %s", desc.Digest, layerDigest)
	}

	return nil
}

func writeRuntimeSpec(bundlePath string, spec interface{}) error {
	f, err := os.Create(filepath.Join(bundlePath, "config.json"))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")
	return enc.Encode(spec)
}
