// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"context"

	peparser "github.com/saferwall/eazdevirt"
)

// Pipeline is the explicit context object spec.md §9's Design Notes calls
// for in place of a process-wide singleton: it owns the opened assembly,
// the two independent CipherStream instances (instruction and resolver),
// the resolved OpcodeTable, and the accumulated Report, threading all of
// it through the stage methods below in the fixed order spec.md §5
// requires (HandlerMatcher before any MethodTranslator).
type Pipeline struct {
	PE *peparser.File

	Key              VMKey
	VMType           peparser.TypeDefTableRow
	InstructionStream *CipherStream
	ResolverStream    *CipherStream
	Opcodes           *OpcodeTable
	Report            *Report

	matchCtx *MatchContext
}

// NewPipeline opens a Pipeline over an already-parsed assembly.
func NewPipeline(pf *peparser.File) *Pipeline {
	return &Pipeline{PE: pf, matchCtx: NewMatchContext(pf), Report: &Report{}}
}

// LocateResource runs ResourceLocator (spec.md §4.1) and stores the
// extracted key and VM type. Fatal: a failure here aborts the whole run.
func (p *Pipeline) LocateResource() error {
	locator := NewResourceLocator(p.matchCtx)
	key, vmType, err := locator.Locate()
	if err != nil {
		return err
	}
	p.Key = key
	p.VMType = vmType

	instrStream, err := NewCipherStream(locator.Ciphertext(), key.Modulus, key.Exponent)
	if err != nil {
		return err
	}
	resolverStream, err := NewCipherStream(locator.Ciphertext(), key.Modulus, key.Exponent)
	if err != nil {
		return err
	}
	p.InstructionStream = instrStream
	p.ResolverStream = resolverStream
	return nil
}

// BuildOpcodeTable runs HandlerMatcher over an already-discovered VMOpcode
// set and builds the OpcodeTable (spec.md §4.3, §4.4).
func (p *Pipeline) BuildOpcodeTable(opcodes []*VMOpcode) error {
	matcher := NewHandlerMatcher(p.matchCtx, Catalog)
	if err := matcher.Run(opcodes); err != nil {
		return err
	}
	p.Opcodes = NewOpcodeTable(opcodes)
	return nil
}

// MatchContext exposes the MatchContext LocateResource and
// BuildOpcodeTable already built, so a caller discovering the translation
// worklist (DiscoverVirtualizedMethods) reuses the same decoded-body memo
// instead of re-decoding every method body from scratch.
func (p *Pipeline) MatchContext() *MatchContext { return p.matchCtx }

// DiscoverOpcodeTable implements spec.md §3's "allocated during dispatcher
// discovery" step end to end: it scans VMType's static constructor for the
// VMOpcode set (DiscoverOpcodes) and then runs BuildOpcodeTable over it.
// LocateResource must have already populated p.VMType.
func (p *Pipeline) DiscoverOpcodeTable() error {
	opcodes, err := DiscoverOpcodes(p.matchCtx, p.VMType)
	if err != nil {
		return err
	}
	return p.BuildOpcodeTable(opcodes)
}

// TranslateVirtualizedMethods fans MethodTranslator out across methods
// (spec.md §4.5, §5) and merges the resulting faults into p.Report.
func (p *Pipeline) TranslateVirtualizedMethods(ctx context.Context, methods []VirtualizedMethod, workers int) map[string]*TranslatedMethod {
	resolver := NewResolver(p.PE, p.ResolverStream)
	results, report := TranslateAll(ctx, p.InstructionStream, p.Opcodes, resolver, methods, workers)

	p.Report.mu.Lock()
	p.Report.Faults = append(p.Report.Faults, report.Faults...)
	p.Report.Resolved += report.Resolved
	p.Report.Skipped += report.Skipped
	p.Report.mu.Unlock()

	return results
}
