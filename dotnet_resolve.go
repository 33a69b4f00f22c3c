// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// ErrTokenOutOfRange is returned when a metadata token's row index falls
// outside the bounds of its table.
var ErrTokenOutOfRange = errors.New("pe: metadata token row index out of range")

// ErrUnsupportedTokenTable is returned when a token's table tag is not one
// this resolver knows how to turn into a name (e.g. a token shape the
// devirtualization core never needs to resolve).
var ErrUnsupportedTokenTable = errors.New("pe: unsupported metadata token table")

// userStringHeapTag is the high byte of a metadata token that addresses the
// #US heap directly by byte offset, rather than a table by row index.
const userStringHeapTag = 0x70

// decodeToken splits a 4-byte metadata token into its table index and
// 1-based row id, per ECMA-335 §II.22.
func decodeToken(token uint32) (table int, rid uint32) {
	return int(token >> 24), token & 0x00FFFFFF
}

// nameFromStringsHeap reads a null-terminated UTF-8 string at idx in the
// #Strings heap.
func (pe *File) nameFromStringsHeap(idx uint32) string {
	heap, ok := pe.CLR.MetadataStreams["#Strings"]
	if !ok {
		return ""
	}
	return string(pe.GetStringFromData(idx, heap))
}

// ResolveUserString reads the UTF-16 literal a `ldstr` token refers to in
// the #US heap. The heap layout is a compressed length (ECMA-335 §II.24.2.4)
// followed by that many bytes of UTF-16LE, the last of which is a single
// marker byte this resolver discards, not character data.
func (pe *File) ResolveUserString(token uint32) (string, error) {
	table, rid := decodeToken(token)
	if table != userStringHeapTag {
		return "", ErrUnsupportedTokenTable
	}

	heap, ok := pe.CLR.MetadataStreams["#US"]
	if !ok {
		return "", ErrTokenOutOfRange
	}
	off := rid
	if off >= uint32(len(heap)) {
		return "", ErrTokenOutOfRange
	}

	length, consumed := DecodeCompressedUint(heap[off:])
	if length == 0 {
		return "", nil
	}
	start := off + uint32(consumed)
	end := start + length - 1 // drop the trailing marker byte
	if end > uint32(len(heap)) || start > end {
		return "", ErrTokenOutOfRange
	}

	return decodeUTF16LE(heap[start:end]), nil
}

// DecodeCompressedUint decodes an ECMA-335 §II.23.2 compressed unsigned
// integer (the same variable-length encoding used for blob lengths, generic
// parameter counts, and signature element counts), returning the decoded
// value and the number of bytes it occupied.
func DecodeCompressedUint(b []byte) (uint32, int) {
	if len(b) == 0 {
		return 0, 0
	}
	first := b[0]
	switch {
	case first&0x80 == 0:
		return uint32(first), 1
	case first&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0
		}
		return (uint32(first&0x3F) << 8) | uint32(b[1]), 2
	case first&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0
		}
		return (uint32(first&0x1F) << 24) | (uint32(b[1]) << 16) | (uint32(b[2]) << 8) | uint32(b[3]), 4
	default:
		return 0, 0
	}
}

// decodeUTF16LE decodes a little-endian UTF-16 byte slice to a Go string.
// Unlike DecodeUTF16String in helper.go, #US heap entries are not
// null-terminated — their length is given by the heap's own compressed
// length prefix — so this decodes the exact byte range handed to it rather
// than scanning for a terminator.
func decodeUTF16LE(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b)%2 == 1 {
		b = b[:len(b)-1]
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(b)
	if err != nil {
		return ""
	}
	return string(s)
}

// ResolveTypeRef resolves a TypeRef or TypeDef metadata token into a
// TypeName-shaped (namespace, name) pair. Resolution scope (which assembly
// or module the type comes from) is left blank for a TypeDef, since those
// are local to this assembly; for a TypeRef it is intentionally left to the
// caller (spec.md's TypeName.AssemblyFullName is filled in by its own
// ParseTypeName, not by this lower-level token lookup).
func (pe *File) ResolveTypeRef(token uint32) (namespace, name string, err error) {
	table, rid := decodeToken(token)
	if rid == 0 {
		return "", "", ErrTokenOutOfRange
	}
	idx := int(rid - 1)

	switch table {
	case TypeRef:
		rows, ok := pe.CLR.MetadataTables[TypeRef].Content.([]TypeRefTableRow)
		if !ok || idx >= len(rows) {
			return "", "", ErrTokenOutOfRange
		}
		row := rows[idx]
		return pe.nameFromStringsHeap(row.TypeNamespace), pe.nameFromStringsHeap(row.TypeName), nil
	case TypeDef:
		rows, ok := pe.CLR.MetadataTables[TypeDef].Content.([]TypeDefTableRow)
		if !ok || idx >= len(rows) {
			return "", "", ErrTokenOutOfRange
		}
		row := rows[idx]
		return pe.nameFromStringsHeap(row.TypeNamespace), pe.nameFromStringsHeap(row.TypeName), nil
	default:
		return "", "", ErrUnsupportedTokenTable
	}
}

// ResolveMethodRef resolves a MethodDef or MemberRef token to a display
// string for a resolved `call`/`callvirt`/`newobj` operand: a MemberRef
// gives "Namespace.Type::Method", a MethodDef gives the bare method name
// without its declaring type.
func (pe *File) ResolveMethodRef(token uint32) (string, error) {
	table, rid := decodeToken(token)
	if rid == 0 {
		return "", ErrTokenOutOfRange
	}
	idx := int(rid - 1)

	switch table {
	case MethodDef:
		rows, ok := pe.CLR.MetadataTables[MethodDef].Content.([]MethodDefTableRow)
		if !ok || idx >= len(rows) {
			return "", ErrTokenOutOfRange
		}
		return pe.nameFromStringsHeap(rows[idx].Name), nil
	case MemberRef:
		return pe.resolveMemberRefName(idx)
	default:
		return "", ErrUnsupportedTokenTable
	}
}

// ResolveMemberRef resolves a MemberRef token (used for both field and
// method references to external/imported members) to a qualified display
// string "Namespace.Type::Member".
func (pe *File) ResolveMemberRef(token uint32) (string, error) {
	table, rid := decodeToken(token)
	if table != MemberRef || rid == 0 {
		return "", ErrUnsupportedTokenTable
	}
	return pe.resolveMemberRefName(int(rid - 1))
}

func (pe *File) resolveMemberRefName(idx int) (string, error) {
	rows, ok := pe.CLR.MetadataTables[MemberRef].Content.([]MemberRefTableRow)
	if !ok || idx >= len(rows) {
		return "", ErrTokenOutOfRange
	}
	row := rows[idx]
	memberName := pe.nameFromStringsHeap(row.Name)

	// Class is a MemberRefParent coded index (tag bits = 3): TypeDef,
	// TypeRef, ModuleRef, MethodDef, TypeSpec, in that tag order.
	tag := row.Class & 0x7
	rowIdx := row.Class >> 3
	var typeName string
	switch tag {
	case 0:
		typeName = pe.typeDefDisplayName(rowIdx)
	case 1:
		typeName = pe.typeRefDisplayName(rowIdx)
	case 2:
		typeName = pe.moduleRefDisplayName(rowIdx)
	default:
		typeName = fmt.Sprintf("<0x%x>", tag)
	}

	return typeName + "::" + memberName, nil
}

func (pe *File) typeDefDisplayName(rid uint32) string {
	ns, name, err := pe.ResolveTypeRef((uint32(TypeDef) << 24) | rid)
	if err != nil {
		return "<unresolved>"
	}
	if ns == "" {
		return name
	}
	return ns + "." + name
}

func (pe *File) typeRefDisplayName(rid uint32) string {
	ns, name, err := pe.ResolveTypeRef((uint32(TypeRef) << 24) | rid)
	if err != nil {
		return "<unresolved>"
	}
	if ns == "" {
		return name
	}
	return ns + "." + name
}

func (pe *File) moduleRefDisplayName(rid uint32) string {
	rows, ok := pe.CLR.MetadataTables[ModuleRef].Content.([]ModuleRefTableRow)
	if !ok || rid == 0 || int(rid-1) >= len(rows) {
		return "<unresolved>"
	}
	return pe.nameFromStringsHeap(rows[rid-1].Name)
}

// ResolveFieldRVA returns the raw bytes stored at the RVA-backed data
// segment for the field identified by fieldRID (a 1-based row index into
// the Field table), reading length bytes. The caller supplies length
// because the Field table's blob signature (not parsed here — field
// signatures are out of scope for this reader) is what would otherwise
// determine it; callers that know the expected payload shape (such as the
// VM session-key field) pass it directly.
func (pe *File) ResolveFieldRVA(fieldRID uint32, length uint32) ([]byte, error) {
	rows, ok := pe.CLR.MetadataTables[FieldRVA].Content.([]FieldRVATableRow)
	if !ok {
		return nil, ErrTokenOutOfRange
	}
	for _, row := range rows {
		if row.Field == fieldRID {
			return pe.GetData(row.RVA, length)
		}
	}
	return nil, ErrTokenOutOfRange
}
