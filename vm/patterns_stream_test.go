// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVMStreamPatternMatchesAnywhereInBody(t *testing.T) {
	body := []Instruction{
		{Opcode: Ldarg0},
		{Opcode: Callvirt},
		{Opcode: LdstrOp, Operand: 0x70000010},
		{Opcode: Ldsfld, Operand: 0x04000005},
		{Opcode: CallOp},
		{Opcode: Ret},
	}

	idx, ok := GetVMStreamPattern.Matches(nil, body)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestGetVMStreamPatternRejectsMissingPair(t *testing.T) {
	body := []Instruction{{Opcode: Ldarg0}, {Opcode: Ret}}
	_, ok := GetVMStreamPattern.Matches(nil, body)
	assert.False(t, ok)
}

func TestLdelemInnerPatternRequiresExactFullBodyShape(t *testing.T) {
	exact := []Instruction{{Opcode: Ldarg0}, {Opcode: Ldarg1}, {Opcode: Ldelem}, {Opcode: Ret}}
	_, ok := LdelemInnerPattern.Matches(nil, exact)
	assert.True(t, ok)

	withPrefix := append([]Instruction{{Opcode: Nop}}, exact...)
	_, ok = LdelemInnerPattern.Matches(nil, withPrefix)
	assert.False(t, ok, "MatchEntireBody patterns must not match with leading padding")
}

func TestHasSuffix(t *testing.T) {
	assert.True(t, hasSuffix("System.Array::get_Length", "::get_Length"))
	assert.False(t, hasSuffix("System.Array::get_LongLength", "::get_Length"))
	assert.False(t, hasSuffix("x", "::get_Length"))
}
