// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func methodHeaderBytes(flags, maxStack uint16, codeSize, localVarSigTok uint32) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[0:2], flags)
	binary.LittleEndian.PutUint16(buf[2:4], maxStack)
	binary.LittleEndian.PutUint32(buf[4:8], codeSize)
	binary.LittleEndian.PutUint32(buf[8:12], localVarSigTok)
	return buf
}

func testOpcodeTable() *OpcodeTable {
	return NewOpcodeTable([]*VMOpcode{
		{VirtualCode: 1, VirtualOperandType: 10, Resolved: ResolvedOpcode{CIL: Ldarg0, Identified: true}},
		{VirtualCode: 2, VirtualOperandType: 10, Resolved: ResolvedOpcode{CIL: Ret, Identified: true}},
		{VirtualCode: 3, VirtualOperandType: 1, Resolved: ResolvedOpcode{CIL: Br, Identified: true}},
	})
}

func TestMethodTranslatorTranslatesSimpleBody(t *testing.T) {
	header := methodHeaderBytes(methodHeaderInitLocals, 4, 2, 0x11000001)
	body := []byte{0x01, 0x02} // Ldarg0, Ret
	exceptionTable := []byte{0, 0, 0, 0}

	stream := bytes.NewReader(append(append(header, body...), exceptionTable...))
	translator := NewMethodTranslator(testOpcodeTable(), NewResolver(nil, bytes.NewReader(nil)))

	result, fault := translator.Translate(stream, "Test::Simple")
	require.Nil(t, fault)
	assert.EqualValues(t, 4, result.Header.MaxStack)
	assert.True(t, result.Header.InitLocals)
	require.Len(t, result.Instructions, 2)
	assert.Equal(t, Ldarg0, result.Instructions[0].Opcode.CIL)
	assert.Equal(t, Ret, result.Instructions[1].Opcode.CIL)
	assert.Empty(t, result.ExceptionHandlers)
}

func TestMethodTranslatorAcceptsBranchToValidBoundary(t *testing.T) {
	// offset 0: Ldarg0 (1 byte); offset 1: Br with a 4-byte target of 0.
	target := make([]byte, 4)
	binary.LittleEndian.PutUint32(target, 0)
	body := append([]byte{0x01, 0x03}, target...)

	header := methodHeaderBytes(0, 1, uint32(len(body)), 0)
	exceptionTable := []byte{0, 0, 0, 0}
	stream := bytes.NewReader(append(append(header, body...), exceptionTable...))

	translator := NewMethodTranslator(testOpcodeTable(), NewResolver(nil, bytes.NewReader(nil)))
	result, fault := translator.Translate(stream, "Test::Branch")
	require.Nil(t, fault)
	require.Len(t, result.Instructions, 2)
	assert.Equal(t, []int{0}, result.Instructions[1].BranchTargets)
}

func TestMethodTranslatorRejectsMisalignedBranch(t *testing.T) {
	target := make([]byte, 4)
	binary.LittleEndian.PutUint32(target, 3) // not an instruction boundary
	body := append([]byte{0x01, 0x03}, target...)

	header := methodHeaderBytes(0, 1, uint32(len(body)), 0)
	exceptionTable := []byte{0, 0, 0, 0}
	stream := bytes.NewReader(append(append(header, body...), exceptionTable...))

	translator := NewMethodTranslator(testOpcodeTable(), NewResolver(nil, bytes.NewReader(nil)))
	_, fault := translator.Translate(stream, "Test::BadBranch")
	require.NotNil(t, fault)
	assert.Equal(t, KindBranchMisaligned, fault.Kind)
}

func TestMethodTranslatorRejectsFaultHandlerKind(t *testing.T) {
	header := methodHeaderBytes(0, 1, 1, 0)
	body := []byte{0x02} // Ret

	var rec [exceptionHandlerWireSize]byte
	rec[0] = byte(HandlerFault)
	count := []byte{1, 0, 0, 0}
	exceptionTable := append(count, rec[:]...)

	stream := bytes.NewReader(append(append(header, body...), exceptionTable...))
	translator := NewMethodTranslator(testOpcodeTable(), NewResolver(nil, bytes.NewReader(nil)))

	_, fault := translator.Translate(stream, "Test::Fault")
	require.NotNil(t, fault)
	assert.Equal(t, KindUnsupportedHandlerKind, fault.Kind)
}

func TestMethodTranslatorTruncatedHeaderFaults(t *testing.T) {
	stream := bytes.NewReader([]byte{0x00, 0x01})
	translator := NewMethodTranslator(testOpcodeTable(), NewResolver(nil, bytes.NewReader(nil)))

	_, fault := translator.Translate(stream, "Test::Truncated")
	require.NotNil(t, fault)
	assert.Equal(t, KindUnidentified, fault.Kind)
}
