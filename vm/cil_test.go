// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMethodBodySimple(t *testing.T) {
	// ldarg.0; callvirt <token 0x0A000005>; pop; ret
	code := []byte{
		0x02,
		0x6F, 0x05, 0x00, 0x00, 0x0A,
		0x26,
		0x2A,
	}
	instrs, err := DecodeMethodBody(code)
	require.NoError(t, err)
	require.Len(t, instrs, 4)

	assert.Equal(t, Ldarg0, instrs[0].Opcode)
	assert.Equal(t, Callvirt, instrs[1].Opcode)
	assert.Equal(t, int64(0x0A000005), instrs[1].Operand)
	assert.Equal(t, Pop, instrs[2].Opcode)
	assert.Equal(t, Ret, instrs[3].Opcode)
}

func TestDecodeMethodBodyTruncated(t *testing.T) {
	_, err := DecodeMethodBody([]byte{0x6F, 0x01, 0x02}) // callvirt missing 2 operand bytes
	assert.ErrorIs(t, err, ErrTruncatedMethodBody)
}

func TestDecodeMethodBodyUnknownOpcode(t *testing.T) {
	_, err := DecodeMethodBody([]byte{0xFE, 0xFF})
	assert.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestConstantI4Value(t *testing.T) {
	cases := []struct {
		inst Instruction
		want int32
	}{
		{Instruction{Opcode: LdcI4M1}, -1},
		{Instruction{Opcode: LdcI40}, 0},
		{Instruction{Opcode: LdcI48}, 8},
		{Instruction{Opcode: LdcI4S, Operand: 42}, 42},
		{Instruction{Opcode: LdcI4, Operand: 100000}, 100000},
	}
	for _, c := range cases {
		got, ok := constantI4Value(c.inst)
		require.True(t, ok)
		assert.Equal(t, c.want, got)
	}

	_, ok := constantI4Value(Instruction{Opcode: Ret})
	assert.False(t, ok)
}

func TestOpcodeFamilyPredicates(t *testing.T) {
	assert.True(t, LdcI4S.IsLoadConstantI4())
	assert.True(t, Ldloc2.IsLoadLocal())
	assert.True(t, StlocS.IsStoreLocal())
	assert.False(t, Ret.IsLoadConstantI4())
}
