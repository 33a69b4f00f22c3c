// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package vm implements the devirtualization core for Eazfuscator.NET
// protected assemblies: resource location, the lazily-decrypted cipher
// stream over the embedded VM resource, opcode-handler pattern matching,
// and virtualized-method translation back to standard CIL.
package vm

import (
	"encoding/binary"
	"errors"
	"math"
)

// OpCode identifies a standard CIL instruction. Single-byte opcodes carry
// their raw byte value (0x00-0xFD); two-byte opcodes (0xFE prefix) carry
// 0xFE00 plus their second byte, so both families share one numeric space
// the way every ECMA-335 disassembler's lookup table does.
type OpCode uint16

// A representative subset of the ECMA-335 opcode table: the opcodes the
// opcode-handler pattern catalog and the method translator actually need
// to recognize, rather than the full ~220-entry set (an exhaustive table
// adds bulk without adding any new matching behavior).
const (
	Nop         OpCode = 0x00 // wildcard in OpcodePattern prototypes
	Break       OpCode = 0x01
	Ldarg0      OpCode = 0x02
	Ldarg1      OpCode = 0x03
	Ldarg2      OpCode = 0x04
	Ldarg3      OpCode = 0x05
	Ldloc0      OpCode = 0x06
	Ldloc1      OpCode = 0x07
	Ldloc2      OpCode = 0x08
	Ldloc3      OpCode = 0x09
	Stloc0      OpCode = 0x0A
	Stloc1      OpCode = 0x0B
	Stloc2      OpCode = 0x0C
	Stloc3      OpCode = 0x0D
	LdargS      OpCode = 0x0E
	LdargaS     OpCode = 0x0F
	StargS      OpCode = 0x10
	LdlocS      OpCode = 0x11
	LdlocaS     OpCode = 0x12
	StlocS      OpCode = 0x13
	LdnullOp    OpCode = 0x14
	LdcI4M1     OpCode = 0x15
	LdcI40      OpCode = 0x16
	LdcI41      OpCode = 0x17
	LdcI42      OpCode = 0x18
	LdcI43      OpCode = 0x19
	LdcI44      OpCode = 0x1A
	LdcI45      OpCode = 0x1B
	LdcI46      OpCode = 0x1C
	LdcI47      OpCode = 0x1D
	LdcI48      OpCode = 0x1E
	LdcI4S      OpCode = 0x1F
	LdcI4       OpCode = 0x20
	LdcI8       OpCode = 0x21
	LdcR4       OpCode = 0x22
	LdcR8       OpCode = 0x23
	Dup         OpCode = 0x25
	Pop         OpCode = 0x26
	Jmp         OpCode = 0x27
	CallOp      OpCode = 0x28
	Calli       OpCode = 0x29
	Ret         OpCode = 0x2A
	Br          OpCode = 0x38
	Brfalse     OpCode = 0x39
	Brtrue      OpCode = 0x3A
	Beq         OpCode = 0x3B
	Bge         OpCode = 0x3C
	Bgt         OpCode = 0x3D
	Ble         OpCode = 0x3E
	Blt         OpCode = 0x3F
	Switch      OpCode = 0x45
	LdindI1     OpCode = 0x46
	LdelemI4    OpCode = 0x94
	LdelemI8    OpCode = 0x96
	LdelemR4    OpCode = 0x98
	LdelemR8    OpCode = 0x99
	LdelemRef   OpCode = 0x9A
	StelemI     OpCode = 0x9B
	Add         OpCode = 0x58
	Sub         OpCode = 0x59
	Mul         OpCode = 0x5A
	Div         OpCode = 0x5B
	DivUn       OpCode = 0x5C
	Rem         OpCode = 0x5D
	RemUn       OpCode = 0x5E
	And         OpCode = 0x5F
	Or          OpCode = 0x60
	Xor         OpCode = 0x61
	Shl         OpCode = 0x62
	Shr         OpCode = 0x63
	ShrUn       OpCode = 0x64
	Neg         OpCode = 0x65
	Not         OpCode = 0x66
	ConvI1      OpCode = 0x67
	ConvI2      OpCode = 0x68
	ConvI4      OpCode = 0x69
	ConvI8      OpCode = 0x6A
	ConvR4      OpCode = 0x6B
	ConvR8      OpCode = 0x6C
	ConvU4      OpCode = 0x6D
	ConvU8      OpCode = 0x6E
	Callvirt    OpCode = 0x6F
	Cpobj       OpCode = 0x70
	Ldobj       OpCode = 0x71
	LdstrOp     OpCode = 0x72
	Newobj      OpCode = 0x73
	Castclass   OpCode = 0x74
	Isinst      OpCode = 0x75
	ConvRUn     OpCode = 0x76
	Unbox       OpCode = 0x79
	Throw       OpCode = 0x7A
	Ldfld       OpCode = 0x7B
	Ldflda      OpCode = 0x7C
	Stfld       OpCode = 0x7D
	Ldsfld      OpCode = 0x7E
	Ldsflda     OpCode = 0x7F
	Stsfld      OpCode = 0x80
	Stobj       OpCode = 0x81
	Box         OpCode = 0x8C
	Newarr      OpCode = 0x8D
	Ldlen       OpCode = 0x8E
	Ldelema     OpCode = 0x8F
	Ldelem      OpCode = 0xA3
	Stelem      OpCode = 0xA4
	UnboxAny    OpCode = 0xA5
	ConvOvfI1   OpCode = 0xB3
	RefanyVal   OpCode = 0xC2
	Ckfinite    OpCode = 0xC3
	Mkrefany    OpCode = 0xC6
	Ldtoken     OpCode = 0xD0
	ConvU2      OpCode = 0xD1
	ConvU1      OpCode = 0xD2
	ConvI       OpCode = 0xD3
	ConvOvfI    OpCode = 0xD4
	ConvOvfU    OpCode = 0xD5
	AddOvf      OpCode = 0xD6
	AddOvfUn    OpCode = 0xD7
	MulOvf      OpCode = 0xD8
	MulOvfUn    OpCode = 0xD9
	SubOvf      OpCode = 0xDA
	SubOvfUn    OpCode = 0xDB
	Endfinally  OpCode = 0xDC
	Leave       OpCode = 0xDD
	LeaveS      OpCode = 0xDE
	StindI      OpCode = 0xDF
	ConvU       OpCode = 0xE0

	// Two-byte (0xFE-prefixed) opcodes, numbered 0xFE00+second-byte.
	Ceq      OpCode = 0xFE01
	Cgt      OpCode = 0xFE02
	CgtUn    OpCode = 0xFE03
	Clt      OpCode = 0xFE04
	CltUn    OpCode = 0xFE05
	Ldftn    OpCode = 0xFE06
	Ldvirtftn OpCode = 0xFE07
	Ldarg    OpCode = 0xFE09
	Ldarga   OpCode = 0xFE0A
	Starg    OpCode = 0xFE0B
	Ldloc    OpCode = 0xFE0C
	Ldloca   OpCode = 0xFE0D
	Stloc    OpCode = 0xFE0E
	Initobj  OpCode = 0xFE15
)

// OperandKind is the CIL-level operand shape, per ECMA-335's OperandType
// enum. virtual_operand_type codes in spec.md §6 map into this vocabulary.
type OperandKind int

// Operand shapes.
const (
	InlineNone OperandKind = iota
	InlineBrTarget
	ShortInlineBrTarget
	InlineI
	InlineI8
	ShortInlineI
	InlineR
	ShortInlineR
	InlineVar
	ShortInlineVar
	InlineTok   // type, method, or field metadata token
	InlineType
	InlineMethod
	InlineField
	InlineString
	InlineSig
	InlineSwitch
)

type opcodeInfo struct {
	name    string
	operand OperandKind
}

var singleByteTable = map[OpCode]opcodeInfo{
	Nop:       {"nop", InlineNone},
	Break:     {"break", InlineNone},
	Ldarg0:    {"ldarg.0", InlineNone},
	Ldarg1:    {"ldarg.1", InlineNone},
	Ldarg2:    {"ldarg.2", InlineNone},
	Ldarg3:    {"ldarg.3", InlineNone},
	Ldloc0:    {"ldloc.0", InlineNone},
	Ldloc1:    {"ldloc.1", InlineNone},
	Ldloc2:    {"ldloc.2", InlineNone},
	Ldloc3:    {"ldloc.3", InlineNone},
	Stloc0:    {"stloc.0", InlineNone},
	Stloc1:    {"stloc.1", InlineNone},
	Stloc2:    {"stloc.2", InlineNone},
	Stloc3:    {"stloc.3", InlineNone},
	LdargS:    {"ldarg.s", ShortInlineVar},
	LdargaS:   {"ldarga.s", ShortInlineVar},
	StargS:    {"starg.s", ShortInlineVar},
	LdlocS:    {"ldloc.s", ShortInlineVar},
	LdlocaS:   {"ldloca.s", ShortInlineVar},
	StlocS:    {"stloc.s", ShortInlineVar},
	LdnullOp:  {"ldnull", InlineNone},
	LdcI4M1:   {"ldc.i4.m1", InlineNone},
	LdcI40:    {"ldc.i4.0", InlineNone},
	LdcI41:    {"ldc.i4.1", InlineNone},
	LdcI42:    {"ldc.i4.2", InlineNone},
	LdcI43:    {"ldc.i4.3", InlineNone},
	LdcI44:    {"ldc.i4.4", InlineNone},
	LdcI45:    {"ldc.i4.5", InlineNone},
	LdcI46:    {"ldc.i4.6", InlineNone},
	LdcI47:    {"ldc.i4.7", InlineNone},
	LdcI48:    {"ldc.i4.8", InlineNone},
	LdcI4S:    {"ldc.i4.s", ShortInlineI},
	LdcI4:     {"ldc.i4", InlineI},
	LdcI8:     {"ldc.i8", InlineI8},
	LdcR4:     {"ldc.r4", ShortInlineR},
	LdcR8:     {"ldc.r8", InlineR},
	Dup:       {"dup", InlineNone},
	Pop:       {"pop", InlineNone},
	Jmp:       {"jmp", InlineMethod},
	CallOp:    {"call", InlineMethod},
	Calli:     {"calli", InlineSig},
	Ret:       {"ret", InlineNone},
	Br:        {"br", InlineBrTarget},
	Brfalse:   {"brfalse", InlineBrTarget},
	Brtrue:    {"brtrue", InlineBrTarget},
	Beq:       {"beq", InlineBrTarget},
	Bge:       {"bge", InlineBrTarget},
	Bgt:       {"bgt", InlineBrTarget},
	Ble:       {"ble", InlineBrTarget},
	Blt:       {"blt", InlineBrTarget},
	Switch:    {"switch", InlineSwitch},
	LdindI1:   {"ldind.i1", InlineNone},
	LdelemI4:  {"ldelem.i4", InlineNone},
	LdelemI8:  {"ldelem.i8", InlineNone},
	LdelemR4:  {"ldelem.r4", InlineNone},
	LdelemR8:  {"ldelem.r8", InlineNone},
	LdelemRef: {"ldelem.ref", InlineNone},
	StelemI:   {"stelem.i", InlineNone},
	Add:       {"add", InlineNone},
	Sub:       {"sub", InlineNone},
	Mul:       {"mul", InlineNone},
	Div:       {"div", InlineNone},
	DivUn:     {"div.un", InlineNone},
	Rem:       {"rem", InlineNone},
	RemUn:     {"rem.un", InlineNone},
	And:       {"and", InlineNone},
	Or:        {"or", InlineNone},
	Xor:       {"xor", InlineNone},
	Shl:       {"shl", InlineNone},
	Shr:       {"shr", InlineNone},
	ShrUn:     {"shr.un", InlineNone},
	Neg:       {"neg", InlineNone},
	Not:       {"not", InlineNone},
	ConvI1:    {"conv.i1", InlineNone},
	ConvI2:    {"conv.i2", InlineNone},
	ConvI4:    {"conv.i4", InlineNone},
	ConvI8:    {"conv.i8", InlineNone},
	ConvR4:    {"conv.r4", InlineNone},
	ConvR8:    {"conv.r8", InlineNone},
	ConvU4:    {"conv.u4", InlineNone},
	ConvU8:    {"conv.u8", InlineNone},
	Callvirt:  {"callvirt", InlineMethod},
	Cpobj:     {"cpobj", InlineType},
	Ldobj:     {"ldobj", InlineType},
	LdstrOp:   {"ldstr", InlineString},
	Newobj:    {"newobj", InlineMethod},
	Castclass: {"castclass", InlineType},
	Isinst:    {"isinst", InlineType},
	ConvRUn:   {"conv.r.un", InlineNone},
	Unbox:     {"unbox", InlineType},
	Throw:     {"throw", InlineNone},
	Ldfld:     {"ldfld", InlineField},
	Ldflda:    {"ldflda", InlineField},
	Stfld:     {"stfld", InlineField},
	Ldsfld:    {"ldsfld", InlineField},
	Ldsflda:   {"ldsflda", InlineField},
	Stsfld:    {"stsfld", InlineField},
	Stobj:     {"stobj", InlineType},
	Box:       {"box", InlineType},
	Newarr:    {"newarr", InlineType},
	Ldlen:     {"ldlen", InlineNone},
	Ldelema:   {"ldelema", InlineType},
	Ldelem:    {"ldelem", InlineType},
	Stelem:    {"stelem", InlineType},
	UnboxAny:  {"unbox.any", InlineType},
	ConvOvfI1: {"conv.ovf.i1", InlineNone},
	RefanyVal: {"refanyval", InlineType},
	Ckfinite:  {"ckfinite", InlineNone},
	Mkrefany:  {"mkrefany", InlineType},
	Ldtoken:   {"ldtoken", InlineTok},
	ConvU2:    {"conv.u2", InlineNone},
	ConvU1:    {"conv.u1", InlineNone},
	ConvI:     {"conv.i", InlineNone},
	ConvOvfI:  {"conv.ovf.i", InlineNone},
	ConvOvfU:  {"conv.ovf.u", InlineNone},
	AddOvf:    {"add.ovf", InlineNone},
	AddOvfUn:  {"add.ovf.un", InlineNone},
	MulOvf:    {"mul.ovf", InlineNone},
	MulOvfUn:  {"mul.ovf.un", InlineNone},
	SubOvf:    {"sub.ovf", InlineNone},
	SubOvfUn:  {"sub.ovf.un", InlineNone},
	Endfinally: {"endfinally", InlineNone},
	Leave:     {"leave", InlineBrTarget},
	LeaveS:    {"leave.s", ShortInlineBrTarget},
	StindI:    {"stind.i", InlineNone},
	ConvU:     {"conv.u", InlineNone},
}

var twoByteTable = map[OpCode]opcodeInfo{
	Ceq:       {"ceq", InlineNone},
	Cgt:       {"cgt", InlineNone},
	CgtUn:     {"cgt.un", InlineNone},
	Clt:       {"clt", InlineNone},
	CltUn:     {"clt.un", InlineNone},
	Ldftn:     {"ldftn", InlineMethod},
	Ldvirtftn: {"ldvirtftn", InlineMethod},
	Ldarg:     {"ldarg", InlineVar},
	Ldarga:    {"ldarga", InlineVar},
	Starg:     {"starg", InlineVar},
	Ldloc:     {"ldloc", InlineVar},
	Ldloca:    {"ldloca", InlineVar},
	Stloc:     {"stloc", InlineVar},
	Initobj:   {"initobj", InlineType},
}

// Name returns the assembler mnemonic for op, or "unknown" if op is not in
// the representative table above.
func (op OpCode) Name() string {
	if info, ok := singleByteTable[op]; ok {
		return info.name
	}
	if info, ok := twoByteTable[op]; ok {
		return info.name
	}
	return "unknown"
}

func (op OpCode) operandKind() (OperandKind, bool) {
	if info, ok := singleByteTable[op]; ok {
		return info.operand, true
	}
	if info, ok := twoByteTable[op]; ok {
		return info.operand, true
	}
	return InlineNone, false
}

// IsLoadConstantI4 reports whether op pushes a constant int32 by any of the
// ldc.i4* forms (.0-.8, .s, .m1, or the 4-byte form) — the load-constant-int32
// interchange family of spec.md §3/§4.3.
func (op OpCode) IsLoadConstantI4() bool {
	switch op {
	case LdcI4M1, LdcI40, LdcI41, LdcI42, LdcI43, LdcI44, LdcI45, LdcI46, LdcI47, LdcI48, LdcI4S, LdcI4:
		return true
	}
	return false
}

// IsLoadLocal reports whether op loads a local variable by any form
// (ldloc.0-3, ldloc.s, ldloc) — always interchangeable per spec.md §4.3.
func (op OpCode) IsLoadLocal() bool {
	switch op {
	case Ldloc0, Ldloc1, Ldloc2, Ldloc3, LdlocS, Ldloc:
		return true
	}
	return false
}

// IsStoreLocal reports whether op stores to a local variable by any form
// (stloc.0-3, stloc.s, stloc) — the store-local interchange family of
// spec.md §4.3.
func (op OpCode) IsStoreLocal() bool {
	switch op {
	case Stloc0, Stloc1, Stloc2, Stloc3, StlocS, Stloc:
		return true
	}
	return false
}

// ErrTruncatedMethodBody is returned when a CIL byte stream ends in the
// middle of an instruction or its operand.
var ErrTruncatedMethodBody = errors.New("vm: truncated method body")

// ErrUnknownOpcode is returned when DecodeMethodBody encounters a byte
// sequence that is not in the representative opcode table.
var ErrUnknownOpcode = errors.New("vm: unknown CIL opcode")

// Instruction is one decoded CIL instruction from a non-virtualized method
// body (a handler delegate, the resource getter, the modulus-string method,
// the dispatcher constructor, ...).
type Instruction struct {
	Offset  int // byte offset of this instruction within the method body
	Opcode  OpCode
	Operand int64 // token, literal, or branch target depending on operand kind
	Operand64 uint64
	OperandF  float64
	Size    int // total encoded size in bytes, including the opcode itself
}

// DecodeMethodBody decodes a flat CIL byte stream into a sequence of
// instructions. It never panics on malformed input; it returns
// ErrTruncatedMethodBody or ErrUnknownOpcode instead.
func DecodeMethodBody(code []byte) ([]Instruction, error) {
	var out []Instruction
	i := 0
	for i < len(code) {
		start := i
		var op OpCode
		if code[i] == 0xFE {
			if i+1 >= len(code) {
				return out, ErrTruncatedMethodBody
			}
			op = 0xFE00 | OpCode(code[i+1])
			i += 2
		} else {
			op = OpCode(code[i])
			i++
		}

		kind, ok := op.operandKind()
		if !ok {
			return out, ErrUnknownOpcode
		}

		inst := Instruction{Offset: start, Opcode: op}
		n, err := decodeOperand(code[i:], kind, &inst)
		if err != nil {
			return out, err
		}
		i += n
		inst.Size = i - start
		out = append(out, inst)
	}
	return out, nil
}

func decodeOperand(b []byte, kind OperandKind, inst *Instruction) (int, error) {
	need := func(n int) error {
		if len(b) < n {
			return ErrTruncatedMethodBody
		}
		return nil
	}
	switch kind {
	case InlineNone:
		return 0, nil
	case ShortInlineI, ShortInlineVar, ShortInlineBrTarget:
		if err := need(1); err != nil {
			return 0, err
		}
		inst.Operand = int64(int8(b[0]))
		return 1, nil
	case InlineVar:
		if err := need(2); err != nil {
			return 0, err
		}
		inst.Operand = int64(binary.LittleEndian.Uint16(b))
		return 2, nil
	case ShortInlineR:
		if err := need(4); err != nil {
			return 0, err
		}
		inst.OperandF = float64(bitsToFloat32(binary.LittleEndian.Uint32(b)))
		return 4, nil
	case InlineBrTarget, InlineI, InlineTok, InlineType, InlineMethod, InlineField, InlineString, InlineSig:
		if err := need(4); err != nil {
			return 0, err
		}
		inst.Operand = int64(int32(binary.LittleEndian.Uint32(b)))
		return 4, nil
	case InlineI8:
		if err := need(8); err != nil {
			return 0, err
		}
		inst.Operand64 = binary.LittleEndian.Uint64(b)
		return 8, nil
	case InlineR:
		if err := need(8); err != nil {
			return 0, err
		}
		inst.OperandF = bitsToFloat64(binary.LittleEndian.Uint64(b))
		return 8, nil
	case InlineSwitch:
		if err := need(4); err != nil {
			return 0, err
		}
		count := binary.LittleEndian.Uint32(b)
		inst.Operand = int64(count)
		total := 4 + int(count)*4
		if err := need(total); err != nil {
			return 0, err
		}
		return total, nil
	default:
		return 0, ErrUnknownOpcode
	}
}

func bitsToFloat32(bits uint32) float32 { return math.Float32frombits(bits) }
func bitsToFloat64(bits uint64) float64 { return math.Float64frombits(bits) }
