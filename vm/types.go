// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

// SpecialOpcode names a VM action that has no single CIL opcode
// equivalent; EazCall is the only one spec.md names (§6). Its virtual_code
// is build-specific, assigned like any other opcode during dispatcher
// discovery (vm/dispatcher.go) — it is identified by its handler body's
// shape (vm/patterns_call.go), never by a fixed numeric code.
type SpecialOpcode int

// Special opcodes.
const (
	NoSpecial SpecialOpcode = iota
	EazCall
)

// ResolvedOpcode is the tagged variant spec.md §3 describes for
// VMOpcode.resolved_opcode: either an ordinary CIL opcode, the EazCall
// special action, or Unidentified.
type ResolvedOpcode struct {
	CIL     OpCode
	Special SpecialOpcode
	// Identified is false until HandlerMatcher succeeds; an Unidentified
	// VMOpcode carries neither a CIL opcode nor a special action.
	Identified bool
}

// IsSpecial reports whether this resolution is a SpecialOpcode rather than
// a plain CIL opcode.
func (r ResolvedOpcode) IsSpecial() bool { return r.Identified && r.Special != NoSpecial }

// VMOpcode is one virtual instruction discovered in the protected binary
// (spec.md §3). It is allocated during dispatcher discovery and mutated
// only by HandlerMatcher; once Resolved.Identified is true it is immutable.
type VMOpcode struct {
	VirtualCode uint32

	// InstructionFieldToken is the metadata token of the field in the
	// dispatcher type that holds this opcode's instruction descriptor.
	InstructionFieldToken uint32

	// DelegateBodyToken is the metadata token of the method implementing
	// this opcode's handler.
	DelegateBodyToken uint32

	// VirtualOperandType is the raw 0..12 code from the dispatcher's
	// instruction descriptor; see spec.md §6 for the fixed mapping.
	VirtualOperandType int

	Resolved ResolvedOpcode
}

// OperandKindFor maps a VMOpcode's VirtualOperandType to the CIL OperandKind
// vocabulary, per the fixed table in spec.md §6. ok is false for any code
// outside the mapping (UnknownOperandType, fatal for the owning method).
func OperandKindFor(virtualOperandType int) (kind OperandKind, ok bool) {
	switch virtualOperandType {
	case 0, 12:
		return InlineTok, true
	case 1:
		return InlineBrTarget, true
	case 3:
		return InlineSwitch, true
	case 4, 5, 11:
		return ShortInlineI, true
	case 6:
		return InlineI8, true
	case 7:
		return InlineI, true
	case 8:
		return InlineR, true
	case 9:
		return ShortInlineVar, true
	case 10:
		return InlineNone, true
	default:
		return InlineNone, false
	}
}

// ExceptionHandlerKind is the VM's wire-level exception handler tag,
// spec.md §6.
type ExceptionHandlerKind uint8

// Exception handler kinds. Fault (4) is named in commentary the original
// tool carries but never actually maps; it surfaces as
// ErrUnsupportedHandlerKind per the Open Questions resolution.
const (
	HandlerException ExceptionHandlerKind = 0
	HandlerFinally   ExceptionHandlerKind = 1
	HandlerFilter    ExceptionHandlerKind = 2
	HandlerFault     ExceptionHandlerKind = 4
)

// VMExceptionHandler is the wire-format record of spec.md §6, decoded in
// the exact field order and width it specifies.
type VMExceptionHandler struct {
	Kind         ExceptionHandlerKind
	CatchToken   int32
	TryStart     uint32
	HandlerStart uint32
	TryLength    uint32
	FilterStart  uint32
}

// exceptionHandlerWireSize is the exact encoded size of a VMExceptionHandler
// record: 1 + 4 + 4 + 4 + 4 + 4 = 21 bytes (spec.md §8 scenario 5).
const exceptionHandlerWireSize = 21
