// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExceptionHandlerRoundTrip(t *testing.T) {
	tests := []VMExceptionHandler{
		{Kind: HandlerException, CatchToken: 0x0200001A, TryStart: 0x10, HandlerStart: 0x40, TryLength: 0x20, FilterStart: 0},
		{Kind: HandlerFinally, CatchToken: 0, TryStart: 0x100, HandlerStart: 0x180, TryLength: 0x50, FilterStart: 0},
		{Kind: HandlerFilter, CatchToken: -1, TryStart: 5, HandlerStart: 9, TryLength: 3, FilterStart: 7},
		{Kind: HandlerFault, CatchToken: 0, TryStart: 1, HandlerStart: 2, TryLength: 1, FilterStart: 0},
	}

	for _, want := range tests {
		buf := EncodeExceptionHandler(want)
		require.Len(t, buf, exceptionHandlerWireSize)

		got, n, err := DecodeExceptionHandler(buf)
		require.NoError(t, err)
		assert.Equal(t, exceptionHandlerWireSize, n)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeExceptionHandlerTruncated(t *testing.T) {
	_, _, err := DecodeExceptionHandler(make([]byte, exceptionHandlerWireSize-1))
	assert.ErrorIs(t, err, ErrTruncatedMethodBody)
}

func TestCILHandlerKind(t *testing.T) {
	cases := []struct {
		kind ExceptionHandlerKind
		want string
	}{
		{HandlerException, "catch"},
		{HandlerFinally, "finally"},
		{HandlerFilter, "filter"},
	}
	for _, c := range cases {
		got, err := CILHandlerKind(c.kind)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := CILHandlerKind(HandlerFault)
	assert.ErrorIs(t, err, ErrUnsupportedHandlerKind)
}
