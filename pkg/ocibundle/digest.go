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
	"io"

	"github.com/opencontainers/go-digest"
)

// digestingReader wraps an underlying byte stream, emitting the same
// bytes to its caller while absorbing everything read into a running
// SHA-256 digest.
//
// Tar readers (and gzip readers feeding them) typically stop reading at
// the logical end of their stream before the physical EOF of the
// underlying source. finish drains the remainder so the digest always
// covers the complete stream, not a strict prefix of it.
type digestingReader struct {
	r        io.Reader
	digester digest.Digester
}

func newDigestingReader(r io.Reader) *digestingReader {
	return &digestingReader{
		r:        r,
		digester: digest.SHA256.Digester(),
	}
}

func (d *digestingReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		// Digester.Hash() is an io.Writer; Write never errors for a hash.
		_, _ = d.digester.Hash().Write(p[:n])
	}
	return n, err
}

// finish drains the underlying stream to EOF and returns the digest of
// everything read, including the drained remainder.
func (d *digestingReader) finish() (digest.Digest, error) {
	if _, err := io.Copy(io.Discard, d); err != nil {
		return "", err
	}
	return d.digester.Digest(), nil
}
