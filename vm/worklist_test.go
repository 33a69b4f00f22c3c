// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"testing"

	peparser "github.com/saferwall/eazdevirt"
	"github.com/stretchr/testify/assert"
)

func testTypeDefs() (typeDefs []peparser.TypeDefTableRow, vmType peparser.TypeDefTableRow) {
	typeDefs = []peparser.TypeDefTableRow{
		{MethodList: 1}, // owns MethodDef rid 1
		{MethodList: 2}, // the VM dispatcher type, owns MethodDef rid 2+
	}
	return typeDefs, typeDefs[1]
}

func TestCalleeOwnedBy(t *testing.T) {
	typeDefs, vmType := testTypeDefs()

	assert.True(t, calleeOwnedBy(typeDefs, methodToken(2), vmType))
	assert.False(t, calleeOwnedBy(typeDefs, methodToken(1), vmType))
	assert.False(t, calleeOwnedBy(typeDefs, uint32(peparser.TypeRef)<<24|2, vmType), "non-MethodDef token table is never ownable")
}

func TestVirtualizedStreamPositionFindsLiteralBeforeDispatcherCall(t *testing.T) {
	typeDefs, vmType := testTypeDefs()
	body := []Instruction{
		{Opcode: Ldarg0},
		{Opcode: LdcI4S, Operand: 0x1234},
		{Opcode: Callvirt, Operand: int64(methodToken(2))},
		{Opcode: Ret},
	}

	pos, ok := virtualizedStreamPosition(typeDefs, body, vmType)
	assert.True(t, ok)
	assert.EqualValues(t, 0x1234, pos)
}

func TestVirtualizedStreamPositionIgnoresCallsToOtherTypes(t *testing.T) {
	typeDefs, vmType := testTypeDefs()
	body := []Instruction{
		{Opcode: LdcI4S, Operand: 0x99},
		{Opcode: Callvirt, Operand: int64(methodToken(1))}, // not owned by vmType
		{Opcode: Ret},
	}

	_, ok := virtualizedStreamPosition(typeDefs, body, vmType)
	assert.False(t, ok)
}

func TestVirtualizedStreamPositionHandlesLdcI8(t *testing.T) {
	typeDefs, vmType := testTypeDefs()
	body := []Instruction{
		{Opcode: LdcI8, Operand64: 0xABCDEF},
		{Opcode: CallOp, Operand: int64(methodToken(2))},
	}

	pos, ok := virtualizedStreamPosition(typeDefs, body, vmType)
	assert.True(t, ok)
	assert.EqualValues(t, 0xABCDEF, pos)
}
