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
	"os/user"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// UserGroupLookup is the thin adapter this package uses for the host
// identity database. Callers may substitute their own implementation,
// e.g. to resolve against a chroot's passwd/group files.
type UserGroupLookup interface {
	// LookupUser resolves a username to its uid and primary gid.
	LookupUser(name string) (uid, gid uint32, err error)
	// LookupUserID resolves a uid to its primary gid and username. A
	// missing uid is an error: the primary gid and, for supplementary
	// gid resolution, the username, cannot otherwise be recovered.
	LookupUserID(uid uint32) (gid uint32, name string, err error)
	// LookupGroup resolves a group name to its gid.
	LookupGroup(name string) (gid uint32, err error)
	// LookupGroupID confirms a gid exists.
	LookupGroupID(gid uint32) error
	// SupplementaryGIDs returns the gids of every group whose member
	// list contains the named user.
	SupplementaryGIDs(name string) ([]uint32, error)
}

// hostLookup implements UserGroupLookup against the host's identity
// database via os/user.
type hostLookup struct{}

func (hostLookup) LookupUser(name string) (uid, gid uint32, err error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "looking up user %q", name)
	}
	uid64, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parsing uid for user %q", name)
	}
	gid64, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parsing primary gid for user %q", name)
	}
	return uint32(uid64), uint32(gid64), nil
}

func (hostLookup) LookupUserID(uid uint32) (gid uint32, name string, err error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return 0, "", errors.Wrapf(err, "uid %d does not map to a known user", uid)
	}
	gid64, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, "", errors.Wrapf(err, "parsing primary gid for uid %d", uid)
	}
	return uint32(gid64), u.Username, nil
}

func (hostLookup) LookupGroup(name string) (gid uint32, err error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, errors.Wrapf(err, "looking up group %q", name)
	}
	gid64, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing gid for group %q", name)
	}
	return uint32(gid64), nil
}

func (hostLookup) LookupGroupID(gid uint32) error {
	if _, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10)); err != nil {
		return errors.Wrapf(err, "gid %d does not map to a known group", gid)
	}
	return nil
}

func (hostLookup) SupplementaryGIDs(name string) ([]uint32, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, errors.Wrapf(err, "looking up user %q", name)
	}
	idStrs, err := u.GroupIds()
	if err != nil {
		return nil, errors.Wrapf(err, "listing groups for user %q", name)
	}
	gids := make([]uint32, 0, len(idStrs))
	for _, s := range idStrs {
		// GroupIds includes the primary gid, which is not a membership
		// match; it is left out.
		if s == u.Gid {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			continue
		}
		gids = append(gids, uint32(n))
	}
	return gids, nil
}

// ResolvedUser is the outcome of resolving a config.json-style user
// string against the host identity database.
type ResolvedUser struct {
	UID            uint32
	GID            uint32
	Name           string
	AdditionalGIDs []uint32
}

// ResolveUser resolves a config.json-style user string of the form
// "<user>" or "<user>:<group>" into uids/gids. Any other form (more
// than one colon) is an error. Each token may be a name or a numeric
// id; a numeric uid must still map to a known user, since the primary
// gid and supplementary groups cannot otherwise be recovered.
func ResolveUser(spec string, lookup UserGroupLookup) (*ResolvedUser, error) {
	if lookup == nil {
		lookup = hostLookup{}
	}

	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 1:
		uid, gid, name, err := resolveUserToken(parts[0], lookup)
		if err != nil {
			return nil, err
		}
		additional, err := lookup.SupplementaryGIDs(name)
		if err != nil {
			return nil, err
		}
		return &ResolvedUser{UID: uid, GID: gid, Name: name, AdditionalGIDs: additional}, nil
	case 2:
		uid, _, name, err := resolveUserToken(parts[0], lookup)
		if err != nil {
			return nil, err
		}
		gid, err := resolveGroupToken(parts[1], lookup)
		if err != nil {
			return nil, err
		}
		return &ResolvedUser{UID: uid, GID: gid, Name: name}, nil
	default:
		return nil, errors.Errorf("malformed user spec %q: more than one colon", spec)
	}
}

func resolveUserToken(token string, lookup UserGroupLookup) (uid, gid uint32, name string, err error) {
	if n, ok := parseUint32(token); ok {
		gid, name, err := lookup.LookupUserID(n)
		if err != nil {
			return 0, 0, "", errors.Wrapf(err, "resolving numeric uid %d", n)
		}
		return n, gid, name, nil
	}
	uid, gid, err = lookup.LookupUser(token)
	return uid, gid, token, err
}

func resolveGroupToken(token string, lookup UserGroupLookup) (uint32, error) {
	if n, ok := parseUint32(token); ok {
		if err := lookup.LookupGroupID(n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return lookup.LookupGroup(token)
}

func parseUint32(token string) (uint32, bool) {
	if token == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(token, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
