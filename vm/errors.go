// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import "errors"

// Fatal pipeline errors. These abort the whole devirtualization run at the
// stage boundary where they occur; see spec.md §7.
var (
	// ErrResourceNotFound is returned when no embedded resource matches the
	// name read from the resource getter.
	ErrResourceNotFound = errors.New("vm: embedded VM resource not found")

	// ErrKeyUnavailable is returned when the RVA-bound session key bytes
	// are missing.
	ErrKeyUnavailable = errors.New("vm: RVA-backed session key unavailable")

	// ErrModulusMissing is returned when no modulus string is found, even
	// after the documented fallback.
	ErrModulusMissing = errors.New("vm: modulus string missing")

	// ErrDispatcherNotFound is returned when the VM dispatcher type cannot
	// be located.
	ErrDispatcherNotFound = errors.New("vm: VM dispatcher type not found")
)

// Per-method, non-fatal errors. The offending method is skipped; others
// continue. See spec.md §7.
var (
	// ErrUnknownOperandType is returned when a virtual_operand_type code is
	// outside the fixed mapping of spec.md §6.
	ErrUnknownOperandType = errors.New("vm: unknown virtual operand type")

	// ErrBranchMisaligned is returned when a patched branch target does not
	// land on an instruction boundary.
	ErrBranchMisaligned = errors.New("vm: branch target misaligned")

	// ErrUnsupportedHandlerKind is returned for any VMExceptionHandler kind
	// other than Exception, Finally, or Filter (notably Fault, kind 4).
	ErrUnsupportedHandlerKind = errors.New("vm: unsupported exception handler kind")

	// ErrDecryptionOverflow is returned when a decrypted block's declared
	// payload length is not smaller than the block size.
	ErrDecryptionOverflow = errors.New("vm: decrypted payload overflows block")
)

// Kind classifies a Fault for programmatic handling (the "machine tag" of
// spec.md §7).
type Kind int

// Fault kinds.
const (
	KindUnidentified Kind = iota
	KindUnknownOperandType
	KindBranchMisaligned
	KindUnsupportedHandlerKind
	KindDecryptionOverflow
	KindVerifierMismatch
)

func (k Kind) String() string {
	switch k {
	case KindUnidentified:
		return "Unidentified"
	case KindUnknownOperandType:
		return "UnknownOperandType"
	case KindBranchMisaligned:
		return "BranchMisaligned"
	case KindUnsupportedHandlerKind:
		return "UnsupportedHandlerKind"
	case KindDecryptionOverflow:
		return "DecryptionOverflow"
	case KindVerifierMismatch:
		return "VerifierMismatch"
	default:
		return "Unknown"
	}
}

// Fault carries a machine-readable Kind alongside a human-readable message,
// scoped to one method or one opcode. Faults are collected in a Report
// rather than aborting the pipeline (spec.md §7).
type Fault struct {
	Kind    Kind
	Method  string // metadata token or name of the affected method, if any
	Message string
}

func (f *Fault) Error() string {
	if f.Method != "" {
		return f.Method + ": " + f.Message
	}
	return f.Message
}
