// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"encoding/base64"
	"testing"

	peparser "github.com/saferwall/eazdevirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodTokenRoundTrip(t *testing.T) {
	tok := methodToken(0x123)
	table, rid := splitToken(tok)
	assert.Equal(t, int(peparser.Method), table)
	assert.EqualValues(t, 0x123, rid)
}

func TestOwnerTypeOfMethod(t *testing.T) {
	typeDefs := []peparser.TypeDefTableRow{
		{MethodList: 1},
		{MethodList: 3},
		{MethodList: 5},
	}
	assert.EqualValues(t, 1, ownerTypeOfMethod(typeDefs, 1))
	assert.EqualValues(t, 1, ownerTypeOfMethod(typeDefs, 2))
	assert.EqualValues(t, 2, ownerTypeOfMethod(typeDefs, 3))
	assert.EqualValues(t, 2, ownerTypeOfMethod(typeDefs, 4))
	assert.EqualValues(t, 3, ownerTypeOfMethod(typeDefs, 5))
	assert.EqualValues(t, 3, ownerTypeOfMethod(typeDefs, 99))
}

func TestMethodRangeOfType(t *testing.T) {
	typeDefs := []peparser.TypeDefTableRow{
		{MethodList: 1},
		{MethodList: 3},
		{MethodList: 5},
	}
	first, last := methodRangeOfType(typeDefs, 10, 1)
	assert.EqualValues(t, 1, first)
	assert.EqualValues(t, 2, last)

	first, last = methodRangeOfType(typeDefs, 10, 3)
	assert.EqualValues(t, 5, first)
	assert.EqualValues(t, 10, last)
}

func TestIsStreamSentinel(t *testing.T) {
	assert.True(t, isStreamSentinel("System.IO", "Stream"))
	assert.True(t, isStreamSentinel("", "Stream"))
	assert.False(t, isStreamSentinel("System.IO", "MemoryStream"))
}

func TestIsInitializeArrayHelper(t *testing.T) {
	assert.True(t, isInitializeArrayHelper("System.Runtime.CompilerServices.RuntimeHelpers::InitializeArray"))
	assert.False(t, isInitializeArrayHelper("System.String::Concat"))
}

func TestDecodeModulusStringFallsBackWhenEmpty(t *testing.T) {
	fallback, err := base64.StdEncoding.DecodeString(fallbackModulusBase64)
	require.NoError(t, err)

	got, err := decodeModulusString("")
	require.NoError(t, err)
	assert.Equal(t, fallback, got)
}

func TestDecodeModulusStringUsesLiteralWhenValid(t *testing.T) {
	want := []byte{0x01, 0x02, 0x03, 0x04}
	got, err := decodeModulusString(base64.StdEncoding.EncodeToString(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeModulusStringFallsBackOnMalformedLiteral(t *testing.T) {
	fallback, err := base64.StdEncoding.DecodeString(fallbackModulusBase64)
	require.NoError(t, err)

	got, err := decodeModulusString("not valid base64!!")
	require.NoError(t, err)
	assert.Equal(t, fallback, got)
}
