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

	"gotest.tools/v3/assert"
)

// fakeLookup is a fixture identity database, avoiding any dependency on
// the real host's /etc/passwd during tests.
type fakeLookup struct {
	usersByName map[string]uint32
	usersByUID  map[uint32]struct {
		gid  uint32
		name string
	}
	groupsByName map[string]uint32
	groupsByGID  map[uint32]struct{}
	supplemental map[string][]uint32
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		usersByName: map[string]uint32{},
		usersByUID: map[uint32]struct {
			gid  uint32
			name string
		}{},
		groupsByName: map[string]uint32{},
		groupsByGID:  map[uint32]struct{}{},
		supplemental: map[string][]uint32{},
	}
}

func (f *fakeLookup) LookupUser(name string) (uid, gid uint32, err error) {
	rec, ok := f.usersByUID[f.usersByName[name]]
	if !ok {
		return 0, 0, errNotFound
	}
	return f.usersByName[name], rec.gid, nil
}

func (f *fakeLookup) LookupUserID(uid uint32) (gid uint32, name string, err error) {
	rec, ok := f.usersByUID[uid]
	if !ok {
		return 0, "", errNotFound
	}
	return rec.gid, rec.name, nil
}

func (f *fakeLookup) LookupGroup(name string) (gid uint32, err error) {
	gid, ok := f.groupsByName[name]
	if !ok {
		return 0, errNotFound
	}
	return gid, nil
}

func (f *fakeLookup) LookupGroupID(gid uint32) error {
	if _, ok := f.groupsByGID[gid]; !ok {
		return errNotFound
	}
	return nil
}

func (f *fakeLookup) SupplementaryGIDs(name string) ([]uint32, error) {
	return f.supplemental[name], nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var errNotFound = notFoundError{}

func addUser(f *fakeLookup, name string, uid, gid uint32) {
	f.usersByName[name] = uid
	f.usersByUID[uid] = struct {
		gid  uint32
		name string
	}{gid: gid, name: name}
}

func addGroup(f *fakeLookup, name string, gid uint32) {
	f.groupsByName[name] = gid
	f.groupsByGID[gid] = struct{}{}
}

func TestResolveUserByName(t *testing.T) {
	f := newFakeLookup()
	addUser(f, "alice", 1000, 1000)
	f.supplemental["alice"] = []uint32{27, 100}

	got, err := ResolveUser("alice", f)
	assert.NilError(t, err)
	assert.Equal(t, got.UID, uint32(1000))
	assert.Equal(t, got.GID, uint32(1000))
	assert.DeepEqual(t, got.AdditionalGIDs, []uint32{27, 100})
}

func TestResolveUserNumericUID(t *testing.T) {
	f := newFakeLookup()
	addUser(f, "root", 0, 0)

	got, err := ResolveUser("0", f)
	assert.NilError(t, err)
	assert.Equal(t, got.UID, uint32(0))
	assert.Equal(t, got.GID, uint32(0))
}

func TestResolveUserNumericUIDMustExist(t *testing.T) {
	f := newFakeLookup()
	_, err := ResolveUser("12345", f)
	assert.ErrorContains(t, err, "12345")
}

func TestResolveUserWithGroup(t *testing.T) {
	f := newFakeLookup()
	addUser(f, "alice", 1000, 1000)
	addGroup(f, "wheel", 10)

	got, err := ResolveUser("alice:wheel", f)
	assert.NilError(t, err)
	assert.Equal(t, got.UID, uint32(1000))
	assert.Equal(t, got.GID, uint32(10))
	assert.Equal(t, len(got.AdditionalGIDs), 0)
}

func TestResolveUserWithNumericGroup(t *testing.T) {
	f := newFakeLookup()
	addUser(f, "alice", 1000, 1000)
	addGroup(f, "wheel", 10)

	got, err := ResolveUser("alice:10", f)
	assert.NilError(t, err)
	assert.Equal(t, got.GID, uint32(10))
}

// A user string with two colons is rejected.
func TestResolveUserMalformed(t *testing.T) {
	f := newFakeLookup()
	_, err := ResolveUser("alice:wheel:extra", f)
	assert.ErrorContains(t, err, "malformed")
}
