// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

// Binary-operator handlers share one shape across the whole arithmetic and
// bitwise family: pop twice, apply the opcode, box the result, push. The
// opcode embedded at the fixed slot is what tells two otherwise-identical
// patterns apart, so a single table drives registration instead of a dozen
// near-duplicate literals.
var binaryOpHandlers = []OpCode{
	Add, Sub, Mul, Div, DivUn, Rem, RemUn,
	And, Or, Xor, Shl, Shr,
}

// Unary-operator handlers (negate, bitwise complement) pop once, apply,
// push — one slot shorter than the binary shape.
var unaryOpHandlers = []OpCode{Neg, Not}

// Comparison handlers push a boxed boolean rather than a boxed number, but
// the surrounding pop/pop/apply/box/push skeleton is identical to the
// binary-operator family.
var comparisonHandlers = []OpCode{Ceq, Cgt, CgtUn, Clt, CltUn}

// Numeric-conversion handlers pop once, convert, push — same skeleton as
// the unary family, distinguished only by the embedded conv.* opcode.
var conversionHandlers = []OpCode{ConvI4, ConvI8, ConvR4, ConvR8}

func init() {
	for _, op := range binaryOpHandlers {
		register(Pattern{
			Name:            "BinaryOp_" + op.Name(),
			MatchEntireBody: true,
			Prototype:       []OpCode{Ldarg0, Callvirt, Callvirt, op, Newobj, Callvirt, Ret},
			TargetCIL:       op,
		})
	}

	for _, op := range unaryOpHandlers {
		register(Pattern{
			Name:            "UnaryOp_" + op.Name(),
			MatchEntireBody: true,
			Prototype:       []OpCode{Ldarg0, Callvirt, op, Newobj, Callvirt, Ret},
			TargetCIL:       op,
		})
	}

	for _, op := range comparisonHandlers {
		register(Pattern{
			Name:            "Compare_" + op.Name(),
			MatchEntireBody: true,
			Prototype:       []OpCode{Ldarg0, Callvirt, Callvirt, op, Newobj, Callvirt, Ret},
			TargetCIL:       op,
		})
	}

	for _, op := range conversionHandlers {
		register(Pattern{
			Name:            "Convert_" + op.Name(),
			MatchEntireBody: true,
			Prototype:       []OpCode{Ldarg0, Callvirt, op, Newobj, Callvirt, Ret},
			TargetCIL:       op,
		})
	}

	register(Pattern{
		Name:            "Dup",
		MatchEntireBody: true,
		Prototype:       []OpCode{Ldarg0, Callvirt, Dup, Callvirt, Callvirt, Ret},
		TargetCIL:       Dup,
	})
	register(Pattern{
		Name:            "Pop",
		MatchEntireBody: true,
		Prototype:       []OpCode{Ldarg0, Callvirt, Pop, Ret},
		TargetCIL:       Pop,
	})
}
