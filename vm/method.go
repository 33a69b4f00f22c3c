// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"encoding/binary"
	"io"
	"math"
)

// methodHeaderInitLocals mirrors CorILMethodInitLocals (ECMA-335 §II.25.4.4,
// also used by the real fat method-body header this VM header shape is
// modeled on): the local-variable slots must be zero-initialized on entry.
const methodHeaderInitLocals = 0x10

// MethodHeader is the VM's own method-prologue record, read directly off
// the instruction CipherStream before the instruction section (spec.md
// §4.5 step 1). Spec.md does not print this header's wire layout verbatim
// the way it does the exception handler; this reader models it on the real
// CLR fat method-body header's field widths and order (u16 flags, u16
// maxstack, u32 code size, u32 local-var signature token), stripped of the
// variable header-size word and MoreSects mechanism the VM doesn't use —
// the exception table is its own explicit section, read in step 3.
type MethodHeader struct {
	MaxStack       uint16
	InitLocals     bool
	LocalVarSigTok uint32
	CodeSize       uint32
}

// TranslatedInstruction is one instruction MethodTranslator emits: a
// resolved opcode (ordinary CIL or the EazCall special action) plus its
// decoded operand.
type TranslatedInstruction struct {
	Offset int // byte offset within the translated instruction section
	Opcode ResolvedOpcode

	// Operand is populated according to the originating VMOpcode's
	// VirtualOperandType; exactly one of these is meaningful at a time.
	IntOperand    int64
	FloatOperand  float64
	BranchTargets []int // instruction offsets; InlineSwitch may carry more than one
	Resolved      ResolvedOperand
	HasResolved   bool
}

// TranslatedMethod is the complete output of translating one virtualized
// method body.
type TranslatedMethod struct {
	Header            MethodHeader
	Instructions      []TranslatedInstruction
	ExceptionHandlers []VMExceptionHandler
}

// MethodTranslator implements spec.md §4.5: reconstructing one
// virtualized method's IL from the instruction CipherStream, the
// OpcodeTable built by HandlerMatcher, and the token Resolver backed by
// the sister resolver CipherStream.
type MethodTranslator struct {
	Opcodes  *OpcodeTable
	Resolver *Resolver
}

// NewMethodTranslator builds a MethodTranslator. The OpcodeTable must
// already be fully resolved — spec.md §5 requires HandlerMatcher to
// complete before any translation runs.
func NewMethodTranslator(opcodes *OpcodeTable, resolver *Resolver) *MethodTranslator {
	return &MethodTranslator{Opcodes: opcodes, Resolver: resolver}
}

// Translate reads one method starting at the stream's current position.
// Per-method failures (spec.md §7) are returned as a *Fault rather than a
// plain error so a caller can accumulate them into a Report without
// aborting the rest of the worklist.
func (mt *MethodTranslator) Translate(stream io.ReadSeeker, methodName string) (*TranslatedMethod, *Fault) {
	header, err := mt.readHeader(stream)
	if err != nil {
		return nil, &Fault{Kind: KindUnidentified, Method: methodName, Message: err.Error()}
	}

	instrs, err := mt.readInstructions(stream, header, methodName)
	if err != nil {
		if fault, ok := err.(*Fault); ok {
			fault.Method = methodName
			return nil, fault
		}
		return nil, &Fault{Kind: KindUnidentified, Method: methodName, Message: err.Error()}
	}

	handlers, err := mt.readExceptionTable(stream)
	if err != nil {
		return nil, &Fault{Kind: KindUnsupportedHandlerKind, Method: methodName, Message: err.Error()}
	}

	if err := patchBranchTargets(instrs); err != nil {
		return nil, &Fault{Kind: KindBranchMisaligned, Method: methodName, Message: err.Error()}
	}

	return &TranslatedMethod{Header: header, Instructions: instrs, ExceptionHandlers: handlers}, nil
}

func (mt *MethodTranslator) readHeader(stream io.ReadSeeker) (MethodHeader, error) {
	var buf [12]byte
	if _, err := io.ReadFull(stream, buf[:]); err != nil {
		return MethodHeader{}, ErrTruncatedMethodBody
	}
	flags := binary.LittleEndian.Uint16(buf[0:2])
	maxStack := binary.LittleEndian.Uint16(buf[2:4])
	codeSize := binary.LittleEndian.Uint32(buf[4:8])
	localVarSigTok := binary.LittleEndian.Uint32(buf[8:12])
	return MethodHeader{
		MaxStack:       maxStack,
		InitLocals:     flags&methodHeaderInitLocals != 0,
		LocalVarSigTok: localVarSigTok,
		CodeSize:       codeSize,
	}, nil
}

// readInstructions implements step 2: decode virtual_code bytes until
// header.CodeSize is consumed, resolving each one's operand per its
// virtual_operand_type.
func (mt *MethodTranslator) readInstructions(stream io.ReadSeeker, header MethodHeader, methodName string) ([]TranslatedInstruction, error) {
	var out []TranslatedInstruction
	var consumed uint32

	for consumed < header.CodeSize {
		offset := int(consumed)
		var codeByte [1]byte
		if _, err := io.ReadFull(stream, codeByte[:]); err != nil {
			return nil, ErrTruncatedMethodBody
		}
		consumed++

		op := mt.Opcodes.Lookup(uint32(codeByte[0]))
		inst := TranslatedInstruction{Offset: offset, Opcode: op.Resolved}

		kind, ok := OperandKindFor(op.VirtualOperandType)
		if !ok {
			return nil, &Fault{Kind: KindUnknownOperandType, Message: ErrUnknownOperandType.Error()}
		}

		n, err := mt.readOperand(stream, kind, &inst)
		if err != nil {
			return nil, err
		}
		consumed += uint32(n)

		out = append(out, inst)
	}
	return out, nil
}

// readOperand decodes one operand per kind, returning the number of bytes
// consumed from stream.
func (mt *MethodTranslator) readOperand(stream io.ReadSeeker, kind OperandKind, inst *TranslatedInstruction) (int, error) {
	switch kind {
	case InlineNone:
		return 0, nil

	case ShortInlineI, ShortInlineVar:
		var b [1]byte
		if _, err := io.ReadFull(stream, b[:]); err != nil {
			return 0, ErrTruncatedMethodBody
		}
		inst.IntOperand = int64(int8(b[0]))
		return 1, nil

	case InlineI:
		var b [4]byte
		if _, err := io.ReadFull(stream, b[:]); err != nil {
			return 0, ErrTruncatedMethodBody
		}
		inst.IntOperand = int64(int32(binary.LittleEndian.Uint32(b[:])))
		return 4, nil

	case InlineI8:
		var b [8]byte
		if _, err := io.ReadFull(stream, b[:]); err != nil {
			return 0, ErrTruncatedMethodBody
		}
		inst.IntOperand = int64(binary.LittleEndian.Uint64(b[:]))
		return 8, nil

	case InlineR:
		var b [8]byte
		if _, err := io.ReadFull(stream, b[:]); err != nil {
			return 0, ErrTruncatedMethodBody
		}
		bits := binary.LittleEndian.Uint64(b[:])
		inst.FloatOperand = math.Float64frombits(bits)
		return 8, nil

	case InlineBrTarget:
		var b [4]byte
		if _, err := io.ReadFull(stream, b[:]); err != nil {
			return 0, ErrTruncatedMethodBody
		}
		inst.BranchTargets = []int{int(int32(binary.LittleEndian.Uint32(b[:])))}
		return 4, nil

	case InlineSwitch:
		var cb [4]byte
		if _, err := io.ReadFull(stream, cb[:]); err != nil {
			return 0, ErrTruncatedMethodBody
		}
		count := binary.LittleEndian.Uint32(cb[:])
		targets := make([]int, count)
		consumed := 4
		for i := range targets {
			var tb [4]byte
			if _, err := io.ReadFull(stream, tb[:]); err != nil {
				return 0, ErrTruncatedMethodBody
			}
			targets[i] = int(int32(binary.LittleEndian.Uint32(tb[:])))
			consumed += 4
		}
		inst.BranchTargets = targets
		return consumed, nil

	case InlineTok, InlineType, InlineMethod, InlineField, InlineString:
		var b [4]byte
		if _, err := io.ReadFull(stream, b[:]); err != nil {
			return 0, ErrTruncatedMethodBody
		}
		pos := int64(int32(binary.LittleEndian.Uint32(b[:])))
		resolved, err := mt.Resolver.Resolve(pos)
		if err != nil {
			return 0, err
		}
		inst.Resolved = resolved
		inst.HasResolved = true
		return 4, nil

	default:
		return 0, &Fault{Kind: KindUnknownOperandType, Message: ErrUnknownOperandType.Error()}
	}
}

// readExceptionTable implements step 3: a u32 count followed by that many
// fixed-width VMExceptionHandler records.
func (mt *MethodTranslator) readExceptionTable(stream io.ReadSeeker) ([]VMExceptionHandler, error) {
	var cb [4]byte
	if _, err := io.ReadFull(stream, cb[:]); err != nil {
		return nil, ErrTruncatedMethodBody
	}
	count := binary.LittleEndian.Uint32(cb[:])
	handlers := make([]VMExceptionHandler, 0, count)
	for i := uint32(0); i < count; i++ {
		var rb [exceptionHandlerWireSize]byte
		if _, err := io.ReadFull(stream, rb[:]); err != nil {
			return nil, ErrTruncatedMethodBody
		}
		h, _, err := DecodeExceptionHandler(rb[:])
		if err != nil {
			return nil, err
		}
		if _, err := CILHandlerKind(h.Kind); err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// patchBranchTargets implements step 4: the stream encodes branch targets
// as byte offsets relative to the start of the instruction section; verify
// every one lands on a decoded instruction's offset.
func patchBranchTargets(instrs []TranslatedInstruction) error {
	boundary := make(map[int]bool, len(instrs))
	for _, in := range instrs {
		boundary[in.Offset] = true
	}
	for i := range instrs {
		for _, target := range instrs[i].BranchTargets {
			if !boundary[target] {
				return ErrBranchMisaligned
			}
		}
	}
	return nil
}
