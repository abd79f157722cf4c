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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pwd "github.com/astromechza/etcpwdparse"
	"github.com/pkg/errors"

	"github.com/sylabs/ocibundle/pkg/sylog"
)

// reconcilePasswdAndGroup synthesizes NSS entries for the resolved
// container user inside the unpacked rootfs. A minimal image (scratch,
// distroless) unpacked with a numeric user often carries no matching
// entry, breaking anything in the bundle that calls getpwuid(3). If the
// rootfs has an /etc/passwd (resp. /etc/group) and the resolved user has
// no entry there, one is appended.
func reconcilePasswdAndGroup(rootfs string, u *ResolvedUser, lookup UserGroupLookup) error {
	passwdPath := filepath.Join(rootfs, "etc", "passwd")
	if content, err := reconcilePasswd(passwdPath, u); err != nil {
		sylog.Debugf("passwd reconciliation: %v", err)
	} else if content != nil {
		if err := os.WriteFile(passwdPath, content, 0o644); err != nil {
			return errors.Wrap(err, "writing reconciled passwd file")
		}
	}

	groupPath := filepath.Join(rootfs, "etc", "group")
	if content, err := reconcileGroup(groupPath, u); err != nil {
		sylog.Debugf("group reconciliation: %v", err)
	} else if content != nil {
		if err := os.WriteFile(groupPath, content, 0o644); err != nil {
			return errors.Wrap(err, "writing reconciled group file")
		}
	}

	return nil
}

// reconcilePasswd returns updated /etc/passwd content with an entry for
// u, nil if the file already has one, or an error if the file cannot be
// read (including when it doesn't exist).
func reconcilePasswd(path string, u *ResolvedUser) ([]byte, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if line == "" {
			continue
		}
		entry, err := pwd.ParsePasswdLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing passwd line %q", line)
		}
		if entry.Uid() == int(u.UID) {
			return nil, nil
		}
	}

	name := u.Name
	if name == "" {
		name = fmt.Sprintf("%d", u.UID)
	}
	lines = append(lines, fmt.Sprintf("%s:x:%d:%d::/:/bin/sh", name, u.UID, u.GID))
	return joinLines(lines), nil
}

// reconcileGroup returns updated /etc/group content with the resolved
// user's primary gid represented, nil if the file already has an entry
// for that gid, or an error if the file cannot be read (including when it
// doesn't exist).
func reconcileGroup(path string, u *ResolvedUser) ([]byte, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		fields := strings.SplitN(line, ":", 4)
		if len(fields) < 3 {
			continue
		}
		if fields[2] == fmt.Sprintf("%d", u.GID) {
			return nil, nil
		}
	}

	name := u.Name
	if name == "" {
		name = fmt.Sprintf("%d", u.GID)
	}
	lines = append(lines, fmt.Sprintf("%s:x:%d:", name, u.GID))
	return joinLines(lines), nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func joinLines(lines []string) []byte {
	lines = append(lines, "")
	return []byte(strings.Join(lines, "\n"))
}
