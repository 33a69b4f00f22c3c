// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	peparser "github.com/saferwall/eazdevirt"
)

// cctorName is the well-known name the metadata #Strings heap holds for a
// type's static constructor (ECMA-335 §II.10.5.3).
const cctorName = ".cctor"

// DiscoverOpcodes implements the dispatcher-discovery half of spec.md §3:
// "VMOpcode is allocated during dispatcher discovery", recovered by reading
// the VM type's static constructor. Spec.md never prints this
// constructor's exact instruction shape; this reader models it on the
// straightforward pattern a static initializer filling a table of
// (code, field, handler, operand-kind) descriptors actually compiles to:
//
//	ldc.i4   <virtual_code>
//	ldtoken  <instruction descriptor field>
//	ldftn    <handler method>
//	ldc.i4   <virtual_operand_type>
//	newobj   instance void VMOpcode::.ctor(...)
//	stsfld   <dispatcher table field>
//
// Each newobj closes one candidate: the first two ldc.i4 literals since the
// previous newobj become VirtualCode and VirtualOperandType (in that order),
// the most recent ldtoken becomes InstructionFieldToken, and the most recent
// ldftn method token becomes DelegateBodyToken. A candidate with no ldtoken
// or no literal is dropped; a missing second literal or ldftn leaves
// VirtualOperandType or DelegateBodyToken zero.
func DiscoverOpcodes(ctx *MatchContext, vmType peparser.TypeDefTableRow) ([]*VMOpcode, error) {
	pf := ctx.PE

	typeDefs, ok := pf.CLR.MetadataTables[peparser.TypeDef].Content.([]peparser.TypeDefTableRow)
	if !ok {
		return nil, ErrDispatcherNotFound
	}
	methodDefs, ok := pf.CLR.MetadataTables[peparser.Method].Content.([]peparser.MethodDefTableRow)
	if !ok {
		return nil, ErrDispatcherNotFound
	}

	var typeRID uint32
	for i, td := range typeDefs {
		if td == vmType {
			typeRID = uint32(i + 1)
			break
		}
	}
	if typeRID == 0 {
		return nil, ErrDispatcherNotFound
	}

	cctorToken, err := staticConstructorOf(pf, typeDefs, methodDefs, typeRID)
	if err != nil {
		return nil, err
	}

	body, err := ctx.BodyOf(cctorToken)
	if err != nil {
		return nil, err
	}

	opcodes := opcodesFromConstructorBody(body)
	if len(opcodes) == 0 {
		return nil, ErrDispatcherNotFound
	}
	return opcodes, nil
}

// staticConstructorOf finds the .cctor MethodDef row owned by the TypeDef at
// 1-based row id typeRID.
func staticConstructorOf(pf *peparser.File, typeDefs []peparser.TypeDefTableRow, methodDefs []peparser.MethodDefTableRow, typeRID uint32) (uint32, error) {
	first, last := methodRangeOfType(typeDefs, uint32(len(methodDefs)), typeRID)
	heap := pf.CLR.MetadataStreams["#Strings"]

	for rid := first; rid <= last && rid >= 1 && int(rid-1) < len(methodDefs); rid++ {
		row := methodDefs[rid-1]
		if row.Flags&methodAttrStatic == 0 {
			continue
		}
		if string(pf.GetStringFromData(row.Name, heap)) == cctorName {
			return methodToken(rid), nil
		}
	}
	return 0, ErrDispatcherNotFound
}

// opcodesFromConstructorBody runs the state machine described on
// DiscoverOpcodes over one decoded method body.
func opcodesFromConstructorBody(body []Instruction) []*VMOpcode {
	var (
		out         []*VMOpcode
		literals    []int32
		fieldToken  uint32
		handlerTok  uint32
		haveField   bool
		haveHandler bool
	)

	reset := func() {
		literals = literals[:0]
		fieldToken = 0
		handlerTok = 0
		haveField = false
		haveHandler = false
	}

	for _, inst := range body {
		switch {
		case inst.Opcode.IsLoadConstantI4():
			v, ok := constantI4Value(inst)
			if ok {
				literals = append(literals, v)
			}

		case inst.Opcode == Ldtoken:
			fieldToken = uint32(inst.Operand)
			haveField = true

		case inst.Opcode == Ldftn:
			handlerTok = uint32(inst.Operand)
			haveHandler = true

		case inst.Opcode == Newobj:
			if len(literals) >= 1 && haveField {
				op := &VMOpcode{
					VirtualCode:           uint32(literals[0]),
					InstructionFieldToken: fieldToken,
				}
				if haveHandler {
					op.DelegateBodyToken = handlerTok
				}
				if len(literals) >= 2 {
					op.VirtualOperandType = int(literals[1])
				}
				out = append(out, op)
			}
			reset()
		}
	}
	return out
}

// constantI4Value returns the literal int32 value an ldc.i4* instruction
// pushes. The short forms (ldc.i4.0-8, ldc.i4.m1) bake their value into the
// opcode itself rather than an operand, since DecodeMethodBody leaves
// Operand unset for InlineNone operands.
func constantI4Value(inst Instruction) (int32, bool) {
	switch inst.Opcode {
	case LdcI4M1:
		return -1, true
	case LdcI40:
		return 0, true
	case LdcI41:
		return 1, true
	case LdcI42:
		return 2, true
	case LdcI43:
		return 3, true
	case LdcI44:
		return 4, true
	case LdcI45:
		return 5, true
	case LdcI46:
		return 6, true
	case LdcI47:
		return 7, true
	case LdcI48:
		return 8, true
	case LdcI4S, LdcI4:
		return int32(inst.Operand), true
	}
	return 0, false
}
