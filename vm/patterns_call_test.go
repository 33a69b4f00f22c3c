// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEazCallPatternMatchesAndResolvesToCallvirt(t *testing.T) {
	p := findPattern(t, "EazCall")
	body := []Instruction{
		{Opcode: Ldarg0}, {Opcode: Callvirt}, {Opcode: Callvirt},
		{Opcode: Newobj}, {Opcode: Callvirt}, {Opcode: Ret},
	}

	_, ok := p.Matches(nil, body)
	require.True(t, ok)

	resolved := p.Resolve()
	assert.Equal(t, Callvirt, resolved.CIL)
	assert.Equal(t, EazCall, resolved.Special)
	assert.True(t, resolved.IsSpecial())
}

func TestEazCallPatternDoesNotMatchUnaryOpShape(t *testing.T) {
	p := findPattern(t, "EazCall")
	body := []Instruction{
		{Opcode: Ldarg0}, {Opcode: Callvirt}, {Opcode: Neg},
		{Opcode: Newobj}, {Opcode: Callvirt}, {Opcode: Ret},
	}

	_, ok := p.Matches(nil, body)
	assert.False(t, ok)
}

func TestHandlerMatcherIdentifiesEazCallByShapeNotVirtualCode(t *testing.T) {
	ctx := &MatchContext{bodies: map[uint32][]Instruction{
		0x06000099: {
			{Opcode: Ldarg0}, {Opcode: Callvirt}, {Opcode: Callvirt},
			{Opcode: Newobj}, {Opcode: Callvirt}, {Opcode: Ret},
		},
	}}
	op := &VMOpcode{VirtualCode: 12345, DelegateBodyToken: 0x06000099}

	m := NewHandlerMatcher(ctx, Catalog)
	require.NoError(t, m.Run([]*VMOpcode{op}))

	assert.True(t, op.Resolved.Identified)
	assert.Equal(t, EazCall, op.Resolved.Special)
	assert.Equal(t, Callvirt, op.Resolved.CIL)
}
