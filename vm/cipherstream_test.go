// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"io"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestCiphertext returns two RSA-block-shaped (length-byte + payload)
// 3-byte blocks that decrypt to the identity under exponent 1, so the test
// can assert exact plaintext bytes without a real keypair.
func buildTestCiphertext() (ciphertext []byte, modulus, exponent *big.Int) {
	ciphertext = []byte{
		2, 'A', 'B', // block 0: 2-byte payload "AB"
		1, 'C', 0, // block 1: 1-byte payload "C"
	}
	modulus = big.NewInt(0xFFFFFF) // 24-bit modulus -> 3-byte blocks
	exponent = big.NewInt(1)       // identity transform under Exp(x, 1, n) = x
	return
}

func TestCipherStreamReadFull(t *testing.T) {
	ciphertext, modulus, exponent := buildTestCiphertext()
	cs, err := NewCipherStream(ciphertext, modulus, exponent)
	require.NoError(t, err)
	assert.EqualValues(t, 3, cs.Length())

	buf := make([]byte, 3)
	require.NoError(t, cs.ReadFull(buf))
	assert.Equal(t, []byte("ABC"), buf)
}

func TestCipherStreamSeekClampsToBounds(t *testing.T) {
	ciphertext, modulus, exponent := buildTestCiphertext()
	cs, err := NewCipherStream(ciphertext, modulus, exponent)
	require.NoError(t, err)

	pos, err := cs.Seek(-5, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)

	pos, err = cs.Seek(1000, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, cs.Length(), pos)
}

func TestCipherStreamReadByteAcrossBlockBoundary(t *testing.T) {
	ciphertext, modulus, exponent := buildTestCiphertext()
	cs, err := NewCipherStream(ciphertext, modulus, exponent)
	require.NoError(t, err)

	var got []byte
	for {
		b, err := cs.ReadByte()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, b)
	}
	assert.Equal(t, []byte("ABC"), got)
}

func TestCipherStreamCloneSharesCacheButNotCursor(t *testing.T) {
	ciphertext, modulus, exponent := buildTestCiphertext()
	base, err := NewCipherStream(ciphertext, modulus, exponent)
	require.NoError(t, err)

	_, err = base.Seek(2, io.SeekStart)
	require.NoError(t, err)

	clone := base.Clone()
	assert.EqualValues(t, 0, clone.Position(), "clone must start at its own cursor, not the parent's")
	assert.Same(t, base.blockCache, clone.blockCache, "clone must share the decrypted-block cache")

	buf := make([]byte, 3)
	require.NoError(t, clone.ReadFull(buf))
	assert.Equal(t, []byte("ABC"), buf)
}
