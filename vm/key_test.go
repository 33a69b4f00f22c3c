// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompositeModulusConcatenatesSessionKeyThenModulusBytes(t *testing.T) {
	sessionKey := []byte{0x01, 0x02}
	modulusBytes := []byte{0x03, 0x04}

	got := compositeModulus(sessionKey, modulusBytes)
	want := new(big.Int).SetBytes([]byte{0x01, 0x02, 0x03, 0x04})

	assert.Equal(t, 0, want.Cmp(got))
}

func TestCompositeModulusIsDeterministic(t *testing.T) {
	sessionKey := []byte("0123456789abcdef")
	modulusBytes := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	first := compositeModulus(sessionKey, modulusBytes)
	second := compositeModulus(sessionKey, modulusBytes)
	assert.Equal(t, 0, first.Cmp(second))
}

func TestDefaultExponentMatchesRSAPublicExponent(t *testing.T) {
	assert.Equal(t, int64(65537), int64(DefaultExponent))
}
