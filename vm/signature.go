// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"errors"

	peparser "github.com/saferwall/eazdevirt"
)

// ECMA-335 §II.23.1.16 element-type tags this reader cares about. Only the
// handful needed to classify a MethodDefSig's return type are named; the
// rest of the signature (parameter types) is skipped, not decoded, since
// nothing downstream needs parameter shapes.
const (
	elementTypeVoid      = 0x01
	elementTypeValueType = 0x11
	elementTypeClass     = 0x12
	elementTypeCmodReqd  = 0x1F
	elementTypeCmodOpt   = 0x20
	elementTypeByRef     = 0x10
)

const (
	sigFlagHasThis = 0x20
	sigFlagGeneric = 0x10
)

// ErrSignatureTruncated is returned when a method signature blob ends
// before the shape its calling-convention byte promised.
var ErrSignatureTruncated = errors.New("vm: truncated method signature")

// blobAt returns the content bytes of the #Blob heap entry at idx: the
// heap stores each blob as a compressed length prefix followed by that many
// content bytes (ECMA-335 §II.24.2.4).
func blobAt(pf *peparser.File, idx uint32) ([]byte, error) {
	heap, ok := pf.CLR.MetadataStreams["#Blob"]
	if !ok || idx >= uint32(len(heap)) {
		return nil, ErrSignatureTruncated
	}
	length, consumed := peparser.DecodeCompressedUint(heap[idx:])
	start := idx + uint32(consumed)
	end := start + length
	if end > uint32(len(heap)) {
		return nil, ErrSignatureTruncated
	}
	return heap[start:end], nil
}

// methodReturnType describes just enough of a MethodDefSig's RetType
// (ECMA-335 §II.23.2.11) to let ResourceLocator recognize the VM's stream
// sentinel return type and tell void methods from non-void ones.
type methodReturnType struct {
	IsVoid  bool
	IsClass bool // CLASS or VALUETYPE, i.e. carries a TypeDefOrRef token
	TypeDefOrRefToken uint32
}

// decodeMethodReturnType parses a MethodDefSig blob far enough to classify
// its return type, skipping over the parameter list entirely (nothing here
// needs parameter shapes).
func decodeMethodReturnType(sig []byte) (methodReturnType, error) {
	if len(sig) == 0 {
		return methodReturnType{}, ErrSignatureTruncated
	}
	i := 0
	flags := sig[i]
	i++

	if flags&sigFlagGeneric != 0 {
		_, n := peparser.DecodeCompressedUint(sig[i:])
		if n == 0 {
			return methodReturnType{}, ErrSignatureTruncated
		}
		i += n
	}

	_, n := peparser.DecodeCompressedUint(sig[i:]) // param count
	if n == 0 {
		return methodReturnType{}, ErrSignatureTruncated
	}
	i += n

	return decodeRetType(sig[i:])
}

func decodeRetType(b []byte) (methodReturnType, error) {
	i := 0
	for i < len(b) && (b[i] == elementTypeCmodReqd || b[i] == elementTypeCmodOpt) {
		i++
		_, n := peparser.DecodeCompressedUint(b[i:])
		if n == 0 {
			return methodReturnType{}, ErrSignatureTruncated
		}
		i += n
	}
	if i >= len(b) {
		return methodReturnType{}, ErrSignatureTruncated
	}
	if b[i] == elementTypeByRef {
		i++
	}
	if i >= len(b) {
		return methodReturnType{}, ErrSignatureTruncated
	}

	switch b[i] {
	case elementTypeVoid:
		return methodReturnType{IsVoid: true}, nil
	case elementTypeClass, elementTypeValueType:
		token, n := peparser.DecodeCompressedUint(b[i+1:])
		if n == 0 {
			return methodReturnType{}, ErrSignatureTruncated
		}
		return methodReturnType{IsClass: true, TypeDefOrRefToken: decodeTypeDefOrRef(token)}, nil
	default:
		return methodReturnType{}, nil
	}
}

// decodeTypeDefOrRef expands a compressed TypeDefOrRef coded index (ECMA-335
// §II.24.2.6, 2 tag bits: TypeDef=0, TypeRef=1, TypeSpec=2) into a full
// 4-byte metadata token whose high byte is the real table index, so it can
// be handed straight to peparser.File.ResolveTypeRef.
func decodeTypeDefOrRef(coded uint32) uint32 {
	tag := coded & 0x3
	rid := coded >> 2
	var table uint32
	switch tag {
	case 0:
		table = uint32(peparser.TypeDef)
	case 1:
		table = uint32(peparser.TypeRef)
	default:
		table = uint32(peparser.TypeSpec)
	}
	return (table << 24) | rid
}
