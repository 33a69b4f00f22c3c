// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolverResolveTruncatedRecord(t *testing.T) {
	stream := bytes.NewReader([]byte{0x00, 0x01, 0x02}) // only 3 of 5 bytes
	r := NewResolver(nil, stream)

	_, err := r.Resolve(0)
	assert.ErrorIs(t, err, ErrResolverRecordTruncated)
}

func TestResolverResolveReleasesLockAfterError(t *testing.T) {
	stream := bytes.NewReader([]byte{0x00, 0x01})
	r := NewResolver(nil, stream)

	// Two sequential failing calls would deadlock on the second Resolve
	// if the internal lock were not released after the first error.
	_, err := r.Resolve(0)
	assert.Error(t, err)

	_, err = r.Resolve(0)
	assert.Error(t, err)
}

func TestResolverResolveUnknownKindIsTruncatedError(t *testing.T) {
	buf := make([]byte, 5)
	buf[0] = 0xFF // not one of the four known resolverRecordKind tags
	stream := bytes.NewReader(buf)
	r := NewResolver(nil, stream)

	_, err := r.Resolve(0)
	assert.ErrorIs(t, err, ErrResolverRecordTruncated)
}
