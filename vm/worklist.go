// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	peparser "github.com/saferwall/eazdevirt"
)

// DiscoverVirtualizedMethods builds the MethodTranslator worklist spec.md
// §4.5/§5 assumes already exists: every MethodDef elsewhere in the assembly
// whose body is the call-through stub a virtualized method compiles down
// to. That stub is an integer literal — the method's byte offset into the
// instruction CipherStream — immediately followed by a call or callvirt
// into the dispatcher type found by ResourceLocator.
func DiscoverVirtualizedMethods(ctx *MatchContext, vmType peparser.TypeDefTableRow) ([]VirtualizedMethod, error) {
	pf := ctx.PE
	rows, ok := pf.CLR.MetadataTables[peparser.Method].Content.([]peparser.MethodDefTableRow)
	if !ok {
		return nil, ErrDispatcherNotFound
	}
	typeDefs, ok := pf.CLR.MetadataTables[peparser.TypeDef].Content.([]peparser.TypeDefTableRow)
	if !ok {
		return nil, ErrDispatcherNotFound
	}
	heap := pf.CLR.MetadataStreams["#Strings"]

	var out []VirtualizedMethod
	for rid := 1; rid <= len(rows); rid++ {
		row := rows[rid-1]
		if row.RVA == 0 {
			continue // abstract or extern: nothing to scan
		}

		tok := methodToken(uint32(rid))
		body, err := ctx.BodyOf(tok)
		if err != nil {
			continue
		}

		pos, found := virtualizedStreamPosition(typeDefs, body, vmType)
		if !found {
			continue
		}

		out = append(out, VirtualizedMethod{
			Name:           string(pf.GetStringFromData(row.Name, heap)),
			StreamPosition: pos,
		})
	}
	return out, nil
}

// virtualizedStreamPosition scans body for an integer literal followed by a
// call into a method owned by vmType; the literal is the stream offset.
// A body can hold more than one such stub call (nested virtualized calls
// compiled inline); only the first is used, matching spec.md §4.1's
// "first successful match wins" posture applied elsewhere in this package.
func virtualizedStreamPosition(typeDefs []peparser.TypeDefTableRow, body []Instruction, vmType peparser.TypeDefTableRow) (int64, bool) {
	var pending int64
	var have bool

	for _, inst := range body {
		switch {
		case inst.Opcode.IsLoadConstantI4():
			if v, ok := constantI4Value(inst); ok {
				pending = int64(v)
				have = true
			}

		case inst.Opcode == LdcI8:
			pending = int64(inst.Operand64)
			have = true

		case inst.Opcode == Callvirt || inst.Opcode == CallOp:
			if have && calleeOwnedBy(typeDefs, uint32(inst.Operand), vmType) {
				return pending, true
			}
		}
	}
	return 0, false
}

// calleeOwnedBy reports whether token names a method owned by vmType.
func calleeOwnedBy(typeDefs []peparser.TypeDefTableRow, token uint32, vmType peparser.TypeDefTableRow) bool {
	table, rid := splitToken(token)
	if table != int(peparser.Method) || rid == 0 {
		return false
	}
	ownerRID := ownerTypeOfMethod(typeDefs, rid)
	if ownerRID == 0 || int(ownerRID-1) >= len(typeDefs) {
		return false
	}
	return typeDefs[ownerRID-1] == vmType
}
