// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

// Pattern is one OpcodePattern catalog entry (spec.md §3, §4.3): a shape
// (Prototype, with Nop as wildcard) plus interchange rules and a semantic
// Verify predicate. Patterns are pure values; nothing mutates one after
// construction, so the catalog below is safe to share across every
// HandlerMatcher.Run call.
type Pattern struct {
	Name string

	// Prototype is the ordered opcode sequence to match against a window
	// of the handler body. Nop is a wildcard: it matches any opcode at
	// that position.
	Prototype []OpCode

	// MatchEntireBody requires the prototype to cover the whole handler,
	// starting at index 0; otherwise the prototype may match any
	// contiguous window.
	MatchEntireBody bool

	// Interchange bits, spec.md §4.3: InterchangeLdloc is always true in
	// every real pattern (load-local forms are always interchangeable)
	// but is kept as an explicit field rather than a hardcoded assumption,
	// since a pattern could in principle pin an exact ldloc form.
	InterchangeLdcI4 bool
	InterchangeLdloc bool
	InterchangeStloc bool

	// Target is what a successful match resolves the VMOpcode to.
	TargetCIL     OpCode
	TargetSpecial SpecialOpcode

	// Verify runs only after the shape (prototype + interchange) matches;
	// it performs the semantic checks spec.md §4.3 describes (full-name
	// resolution, sub-pattern recursion, field-token membership). A nil
	// Verify always accepts.
	Verify func(ctx *MatchContext, body []Instruction, index int) bool
}

// Resolve builds the ResolvedOpcode a successful match of this pattern
// produces.
func (p Pattern) Resolve() ResolvedOpcode {
	special := NoSpecial
	if p.TargetSpecial != NoSpecial {
		special = p.TargetSpecial
	}
	return ResolvedOpcode{CIL: p.TargetCIL, Special: special, Identified: true}
}

// matchesAt implements the three-step matching predicate of spec.md §4.3
// at a fixed starting index i.
func (p Pattern) matchesAt(ctx *MatchContext, body []Instruction, i int) bool {
	if i+len(p.Prototype) > len(body) {
		return false
	}

	for k, want := range p.Prototype {
		got := body[i+k].Opcode
		switch {
		case want == Nop:
			// wildcard
		case got == want:
			// exact
		case p.InterchangeLdcI4 && got.IsLoadConstantI4() && want.IsLoadConstantI4():
		case p.InterchangeLdloc && got.IsLoadLocal() && want.IsLoadLocal():
		case p.InterchangeStloc && got.IsStoreLocal() && want.IsStoreLocal():
		default:
			return false
		}
	}

	if p.Verify == nil {
		return true
	}
	return p.Verify(ctx, body, i)
}

// Matches reports whether p matches body starting anywhere permitted by
// MatchEntireBody, returning the starting index of the first match.
func (p Pattern) Matches(ctx *MatchContext, body []Instruction) (index int, ok bool) {
	if p.MatchEntireBody {
		if len(p.Prototype) > len(body) {
			return 0, false
		}
		if p.matchesAt(ctx, body, 0) {
			return 0, true
		}
		return 0, false
	}

	for i := 0; i+len(p.Prototype) <= len(body); i++ {
		if p.matchesAt(ctx, body, i) {
			return i, true
		}
	}
	return 0, false
}

// Catalog is the static, explicitly listed pattern table spec.md §9's
// Design Notes calls for in place of runtime reflection over pattern types.
// It is populated from vm/patterns_*.go's init functions, grouped by
// instruction family; selection policy (first accepted pattern wins,
// patterns are never consumed) lives in HandlerMatcher.Run.
var Catalog []Pattern

func register(patterns ...Pattern) {
	Catalog = append(Catalog, patterns...)
}
