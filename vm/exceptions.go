// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import "encoding/binary"

// DecodeExceptionHandler reads one VMExceptionHandler record from buf in
// the exact field order and width spec.md §6 specifies: a kind byte
// followed by five little-endian u32/i32 fields, 21 bytes total. kind 4
// (Fault) decodes without error — ErrUnsupportedHandlerKind is a
// translation-time failure (spec.md §4.5 step 3), not a decode-time one.
func DecodeExceptionHandler(buf []byte) (VMExceptionHandler, int, error) {
	if len(buf) < exceptionHandlerWireSize {
		return VMExceptionHandler{}, 0, ErrTruncatedMethodBody
	}
	h := VMExceptionHandler{
		Kind:         ExceptionHandlerKind(buf[0]),
		CatchToken:   int32(binary.LittleEndian.Uint32(buf[1:5])),
		TryStart:     binary.LittleEndian.Uint32(buf[5:9]),
		HandlerStart: binary.LittleEndian.Uint32(buf[9:13]),
		TryLength:    binary.LittleEndian.Uint32(buf[13:17]),
		FilterStart:  binary.LittleEndian.Uint32(buf[17:21]),
	}
	return h, exceptionHandlerWireSize, nil
}

// EncodeExceptionHandler serializes h back into the wire layout
// DecodeExceptionHandler reads, for the round-trip property spec.md §8
// scenario 5 names.
func EncodeExceptionHandler(h VMExceptionHandler) []byte {
	buf := make([]byte, exceptionHandlerWireSize)
	buf[0] = byte(h.Kind)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(h.CatchToken))
	binary.LittleEndian.PutUint32(buf[5:9], h.TryStart)
	binary.LittleEndian.PutUint32(buf[9:13], h.HandlerStart)
	binary.LittleEndian.PutUint32(buf[13:17], h.TryLength)
	binary.LittleEndian.PutUint32(buf[17:21], h.FilterStart)
	return buf
}

// CILHandlerKind maps a decoded VM exception handler kind to the standard
// IL exception-clause kind MethodTranslator emits, or
// ErrUnsupportedHandlerKind for anything other than Exception/Finally/
// Filter (spec.md §4.5 step 3; Fault is the documented gap, spec.md §9).
func CILHandlerKind(k ExceptionHandlerKind) (string, error) {
	switch k {
	case HandlerException:
		return "catch", nil
	case HandlerFinally:
		return "finally", nil
	case HandlerFilter:
		return "filter", nil
	default:
		return "", ErrUnsupportedHandlerKind
	}
}
