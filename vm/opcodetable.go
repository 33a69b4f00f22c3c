// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

// OpcodeTable is the mapping virtual_code -> VMOpcode, built once after
// HandlerMatcher completes (spec.md §3, §4.4) and read-only thereafter —
// the precondition spec.md §5 requires before MethodTranslator may fan out
// across workers.
type OpcodeTable struct {
	byCode map[uint32]*VMOpcode
	byKind map[SpecialOpcode][]uint32
}

// unidentifiedSentinel is the canonical "nop" VMOpcode Lookup returns for a
// virtual_code absent from the table, so disassembly stays tolerant of
// unknown stream bytes instead of risking a nil-pointer downstream.
var unidentifiedSentinel = &VMOpcode{
	Resolved: ResolvedOpcode{CIL: Nop, Identified: false},
}

// NewOpcodeTable builds an OpcodeTable from a fully matched opcode set.
func NewOpcodeTable(opcodes []*VMOpcode) *OpcodeTable {
	t := &OpcodeTable{
		byCode: make(map[uint32]*VMOpcode, len(opcodes)),
		byKind: make(map[SpecialOpcode][]uint32),
	}
	for _, op := range opcodes {
		t.byCode[op.VirtualCode] = op
		if op.Resolved.IsSpecial() {
			t.byKind[op.Resolved.Special] = append(t.byKind[op.Resolved.Special], op.VirtualCode)
		}
	}
	return t
}

// Lookup returns the VMOpcode for code, or the canonical nop sentinel if
// code is not in the table.
func (t *OpcodeTable) Lookup(code uint32) *VMOpcode {
	if op, ok := t.byCode[code]; ok {
		return op
	}
	return unidentifiedSentinel
}

// HasEazCall reports whether any of methodCodes resolves to the EazCall
// special opcode, backing the call-graph reconstruction check spec.md §4.4
// names.
func (t *OpcodeTable) HasEazCall(methodCodes []uint32) bool {
	eazCalls := t.byKind[EazCall]
	if len(eazCalls) == 0 {
		return false
	}
	set := make(map[uint32]struct{}, len(eazCalls))
	for _, c := range eazCalls {
		set[c] = struct{}{}
	}
	for _, c := range methodCodes {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

// Len reports how many virtual codes are registered in the table.
func (t *OpcodeTable) Len() int { return len(t.byCode) }
