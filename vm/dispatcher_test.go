// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpcodesFromConstructorBodyExtractsFullDescriptor(t *testing.T) {
	body := []Instruction{
		{Opcode: LdcI43},
		{Opcode: Ldtoken, Operand: 0x04000007},
		{Opcode: Ldftn, Operand: 0x06000042},
		{Opcode: LdcI4S, Operand: 5},
		{Opcode: Newobj},
		{Opcode: Stsfld, Operand: 0x04000099},
	}

	opcodes := opcodesFromConstructorBody(body)
	require.Len(t, opcodes, 1)
	assert.EqualValues(t, 3, opcodes[0].VirtualCode)
	assert.EqualValues(t, 0x04000007, opcodes[0].InstructionFieldToken)
	assert.EqualValues(t, 0x06000042, opcodes[0].DelegateBodyToken)
	assert.Equal(t, 5, opcodes[0].VirtualOperandType)
}

func TestOpcodesFromConstructorBodyResetsBetweenEntries(t *testing.T) {
	body := []Instruction{
		// entry 0: full descriptor
		{Opcode: LdcI43},
		{Opcode: Ldtoken, Operand: 0x04000007},
		{Opcode: Ldftn, Operand: 0x06000042},
		{Opcode: LdcI4S, Operand: 5},
		{Opcode: Newobj},
		{Opcode: Stsfld},
		// entry 1: no explicit operand-type literal
		{Opcode: LdcI41},
		{Opcode: Ldtoken, Operand: 0x04000008},
		{Opcode: Ldftn, Operand: 0x06000043},
		{Opcode: Newobj},
		{Opcode: Stsfld},
	}

	opcodes := opcodesFromConstructorBody(body)
	require.Len(t, opcodes, 2)

	assert.EqualValues(t, 1, opcodes[1].VirtualCode)
	assert.EqualValues(t, 0x04000008, opcodes[1].InstructionFieldToken)
	assert.EqualValues(t, 0x06000043, opcodes[1].DelegateBodyToken)
	assert.Equal(t, 0, opcodes[1].VirtualOperandType, "no second literal before newobj leaves operand type zero")
}

func TestOpcodesFromConstructorBodySkipsEntryWithoutField(t *testing.T) {
	body := []Instruction{
		{Opcode: LdcI43},
		{Opcode: Newobj}, // no ldtoken: incomplete descriptor, dropped
	}
	opcodes := opcodesFromConstructorBody(body)
	assert.Empty(t, opcodes)
}
