// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"encoding/binary"
	"errors"
	"io"

	peparser "github.com/saferwall/eazdevirt"
)

// resolverRecordKind tags one entry of the token-resolver stream. Spec.md
// §4.5 only specifies that "operand tokens are looked up in the resolver
// stream, which yields fully-qualified type/member/string references" and
// leaves the stream's own wire layout unstated; this fixed-width, directly
// addressed record shape is this reader's resolution of that gap — see
// the design ledger for the reasoning.
type resolverRecordKind uint8

const (
	resolverKindType resolverRecordKind = iota
	resolverKindMethod
	resolverKindField
	resolverKindString
)

// ErrResolverRecordTruncated is returned when a resolver-stream record
// cannot be read in full at the requested offset.
var ErrResolverRecordTruncated = errors.New("vm: truncated resolver stream record")

// Resolver turns an operand's raw stream-relative position into a
// fully-qualified name by reading the sister resolver CipherStream and
// resolving the metadata token it contains against the host assembly.
// spec.md §5 requires that, when shared across workers, seek+read pairs on
// this stream are mediated as atomic transactions; Resolve takes that lock
// for the duration of one record read.
type Resolver struct {
	pe     *peparser.File
	stream io.ReadSeeker
	lock   chan struct{} // 1-buffered mutex; see spec.md §5 shared-resource note
}

// NewResolver builds a Resolver over the token-resolver CipherStream.
func NewResolver(pf *peparser.File, stream io.ReadSeeker) *Resolver {
	r := &Resolver{pe: pf, stream: stream, lock: make(chan struct{}, 1)}
	r.lock <- struct{}{}
	return r
}

// ResolvedOperand is the outcome of looking up one operand token: a
// human-readable qualified name plus the raw metadata token it came from,
// for operand kinds that carry one (InlineTok/InlineType/InlineMethod/
// InlineField/InlineString); numeric operand kinds never call Resolve.
type ResolvedOperand struct {
	QualifiedName string
	Token         uint32
}

// Resolve reads the 5-byte record (kind byte + u32 token) at byte offset
// pos in the resolver stream and resolves it against the host assembly.
func (r *Resolver) Resolve(pos int64) (ResolvedOperand, error) {
	<-r.lock
	defer func() { r.lock <- struct{}{} }()

	if _, err := r.stream.Seek(pos, io.SeekStart); err != nil {
		return ResolvedOperand{}, err
	}
	var buf [5]byte
	if _, err := io.ReadFull(r.stream, buf[:]); err != nil {
		return ResolvedOperand{}, ErrResolverRecordTruncated
	}
	kind := resolverRecordKind(buf[0])
	token := binary.LittleEndian.Uint32(buf[1:5])

	switch kind {
	case resolverKindType:
		ns, name, err := r.pe.ResolveTypeRef(token)
		if err != nil {
			return ResolvedOperand{}, err
		}
		full := name
		if ns != "" {
			full = ns + "." + name
		}
		return ResolvedOperand{QualifiedName: full, Token: token}, nil
	case resolverKindMethod:
		name, err := r.pe.ResolveMethodRef(token)
		if err != nil {
			return ResolvedOperand{}, err
		}
		return ResolvedOperand{QualifiedName: name, Token: token}, nil
	case resolverKindField:
		name, err := r.pe.ResolveMemberRef(token)
		if err != nil {
			return ResolvedOperand{}, err
		}
		return ResolvedOperand{QualifiedName: name, Token: token}, nil
	case resolverKindString:
		s, err := r.pe.ResolveUserString(token)
		if err != nil {
			return ResolvedOperand{}, err
		}
		return ResolvedOperand{QualifiedName: s, Token: token}, nil
	default:
		return ResolvedOperand{}, ErrResolverRecordTruncated
	}
}
