// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	peparser "github.com/saferwall/eazdevirt"
)

// MatchContext threads the assembly reader and a per-token decoded-body
// memo through pattern matching. Design Notes (spec.md §9) calls for an
// explicit context value in place of a process-wide singleton; this is it.
type MatchContext struct {
	PE *peparser.File

	bodies map[uint32][]Instruction
}

// NewMatchContext builds a MatchContext over an opened assembly.
func NewMatchContext(pf *peparser.File) *MatchContext {
	return &MatchContext{PE: pf, bodies: make(map[uint32][]Instruction)}
}

// BodyOf decodes (and memoizes) the CIL instructions of the MethodDef
// identified by token. Memoizing per token is what keeps sub-pattern
// recursion (spec.md §4.3 "Sub-patterns") provably terminating: a callee is
// decoded once no matter how many callers' verifiers recurse into it.
func (ctx *MatchContext) BodyOf(token uint32) ([]Instruction, error) {
	if body, ok := ctx.bodies[token]; ok {
		return body, nil
	}

	table, rid := decodeToken(token)
	if table != int(peparser.Method) || rid == 0 {
		return nil, ErrDispatcherNotFound
	}
	rows, ok := ctx.PE.CLR.MetadataTables[peparser.Method].Content.([]peparser.MethodDefTableRow)
	if !ok || int(rid-1) >= len(rows) {
		return nil, ErrDispatcherNotFound
	}

	mb, err := ctx.PE.ReadMethodBody(rows[rid-1].RVA)
	if err != nil {
		return nil, err
	}
	body, err := DecodeMethodBody(mb.Code)
	if err != nil {
		return nil, err
	}

	ctx.bodies[token] = body
	return body, nil
}

// decodeToken splits a 4-byte metadata token into its table index and
// 1-based row id, mirroring the unexported helper of the same name in the
// assembly reader (duplicated here rather than exported across package
// boundaries purely for a one-line arithmetic helper).
func decodeToken(token uint32) (table int, rid uint32) {
	return int(token >> 24), token & 0x00FFFFFF
}

// HandlerMatcher walks a set of VMOpcodes, each with a known delegate body
// token, and assigns each one's Resolved field by trying every Catalog
// pattern in order (spec.md §4.3).
type HandlerMatcher struct {
	ctx     *MatchContext
	catalog []Pattern
}

// NewHandlerMatcher builds a matcher over the given context and pattern
// catalog (the package-level Catalog by default; tests may pass a smaller
// slice).
func NewHandlerMatcher(ctx *MatchContext, catalog []Pattern) *HandlerMatcher {
	return &HandlerMatcher{ctx: ctx, catalog: catalog}
}

// MatchesPattern reports whether body matches the named catalog pattern,
// without going through the full opcode-table pass. It returns false when
// no pattern in the matcher's catalog has that name.
func (m *HandlerMatcher) MatchesPattern(name string, body []Instruction) bool {
	for _, p := range m.catalog {
		if p.Name != name {
			continue
		}
		_, ok := p.Matches(m.ctx, body)
		return ok
	}
	return false
}

// Run identifies every opcode in opcodes in place, mutating each one's
// Resolved field. Unmatched opcodes are left zero-valued (Identified=false)
// per spec.md §4.3/§7 — this is never fatal.
func (m *HandlerMatcher) Run(opcodes []*VMOpcode) error {
	for _, op := range opcodes {
		body, err := m.ctx.BodyOf(op.DelegateBodyToken)
		if err != nil {
			// A delegate body that cannot even be decoded is left
			// Unidentified rather than aborting the whole table: other
			// opcodes may still resolve.
			continue
		}

		for _, p := range m.catalog {
			if idx, ok := p.Matches(m.ctx, body); ok {
				_ = idx
				op.Resolved = p.Resolve()
				break
			}
		}
	}
	return nil
}
