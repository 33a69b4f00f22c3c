// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "errors"

// CorILMethod format bits, ECMA-335 §II.25.4.4.
const (
	corILMethodTinyFormat = 0x2
	corILMethodFatFormat  = 0x3
	corILMethodFormatMask = 0x3

	corILMethodInitLocals = 0x10
	corILMethodMoreSects  = 0x8
)

// ErrInvalidMethodBody is returned when a method body header's format bits
// do not match either the tiny or fat encoding.
var ErrInvalidMethodBody = errors.New("pe: invalid method body header")

// MethodBody is the result of reading a MethodDef's IL body: the raw CIL
// bytes plus the header fields every devirtualized stub needs (max stack
// depth and the local-variable signature token, so a caller can recover the
// locals' types from the StandAloneSig table).
type MethodBody struct {
	MaxStack       uint16
	InitLocals     bool
	LocalVarSigTok uint32
	Code           []byte
}

// ReadMethodBody reads the tiny-or-fat method-body header at rva (ECMA-335
// §II.25.4) and returns the header fields plus the raw CIL byte slice that
// follows it. This is the one IL-reading capability the generic metadata
// reader needs beyond what it already exposes: every non-virtualized helper
// method the devirtualization core inspects (resource getter, modulus-string
// method, VM dispatcher constructor, handler delegates) is read this way.
func (pe *File) ReadMethodBody(rva uint32) (MethodBody, error) {
	offset := pe.GetOffsetFromRva(rva)
	first, err := pe.ReadUint8(offset)
	if err != nil {
		return MethodBody{}, err
	}

	switch first & corILMethodFormatMask {
	case corILMethodTinyFormat:
		codeSize := uint32(first >> 2)
		code, err := pe.ReadBytesAtOffset(offset+1, codeSize)
		if err != nil {
			return MethodBody{}, err
		}
		return MethodBody{MaxStack: 8, Code: code}, nil

	case corILMethodFatFormat:
		flagsAndSize, err := pe.ReadUint16(offset)
		if err != nil {
			return MethodBody{}, err
		}
		headerSize := (flagsAndSize >> 12) & 0xF
		flags := flagsAndSize & 0x0FFF

		maxStack, err := pe.ReadUint16(offset + 2)
		if err != nil {
			return MethodBody{}, err
		}
		codeSize, err := pe.ReadUint32(offset + 4)
		if err != nil {
			return MethodBody{}, err
		}
		localVarSigTok, err := pe.ReadUint32(offset + 8)
		if err != nil {
			return MethodBody{}, err
		}

		codeOffset := offset + uint32(headerSize)*4
		code, err := pe.ReadBytesAtOffset(codeOffset, codeSize)
		if err != nil {
			return MethodBody{}, err
		}

		return MethodBody{
			MaxStack:       maxStack,
			InitLocals:     flags&corILMethodInitLocals != 0,
			LocalVarSigTok: localVarSigTok,
			Code:           code,
		}, nil

	default:
		return MethodBody{}, ErrInvalidMethodBody
	}
}
