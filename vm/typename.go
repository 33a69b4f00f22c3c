// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import "strings"

// Modifier is a type modifier applied, in declaration order, to a TypeName
// (spec.md §3): array ([]), pointer (*), or by-ref (&).
type Modifier int

// Modifiers.
const (
	ModArray Modifier = iota
	ModPointer
	ModByRef
)

func (m Modifier) String() string {
	switch m {
	case ModArray:
		return "[]"
	case ModPointer:
		return "*"
	case ModByRef:
		return "&"
	default:
		return ""
	}
}

// TypeName is a parsed assembly-qualified type name, e.g.
// "System.Collections.Generic.List`1+Enumerator[],
// mscorlib, Version=4.0.0.0, Culture=neutral, PublicKeyToken=b77a5c561934e089".
// It separates the assembly-full-name from the type name, keeps a stack of
// modifiers applied in declaration order, and tracks nested-type path
// segments joined by '+' in the CLR's own naming convention.
type TypeName struct {
	AssemblyFullName string
	Namespace        string
	Name             string
	NestedPath       []string // enclosing types, outermost first
	Modifiers        []Modifier
}

// ParseTypeName parses an assembly-qualified name of the form
// "Namespace.Outer+Inner[]*&, AssemblyFullName". Missing parts are left
// zero-valued; this never errors, since malformed names should degrade to a
// best-effort TypeName rather than aborting a caller that is merely
// printing a diagnostic.
func ParseTypeName(raw string) TypeName {
	var tn TypeName

	full := raw
	if idx := strings.IndexByte(raw, ','); idx >= 0 {
		full = raw[:idx]
		tn.AssemblyFullName = strings.TrimSpace(raw[idx+1:])
	}

	// Strip trailing modifiers: [], *, & may each appear, applied in the
	// order written (innermost modifier written first is applied first).
stripModifiers:
	for {
		switch {
		case strings.HasSuffix(full, "[]"):
			tn.Modifiers = append(tn.Modifiers, ModArray)
			full = full[:len(full)-2]
		case strings.HasSuffix(full, "*"):
			tn.Modifiers = append(tn.Modifiers, ModPointer)
			full = full[:len(full)-1]
		case strings.HasSuffix(full, "&"):
			tn.Modifiers = append(tn.Modifiers, ModByRef)
			full = full[:len(full)-1]
		default:
			break stripModifiers
		}
	}
	// The suffixes were peeled off last-written first; restore written order.
	for i, j := 0, len(tn.Modifiers)-1; i < j; i, j = i+1, j-1 {
		tn.Modifiers[i], tn.Modifiers[j] = tn.Modifiers[j], tn.Modifiers[i]
	}

	segments := strings.Split(full, "+")
	leaf := segments[len(segments)-1]
	tn.NestedPath = segments[:len(segments)-1]

	if idx := strings.LastIndexByte(leaf, '.'); idx >= 0 {
		tn.Namespace = leaf[:idx]
		tn.Name = leaf[idx+1:]
	} else {
		tn.Name = leaf
	}

	return tn
}

// FullName reconstructs a namespace-qualified, nested-aware type name
// without the assembly qualification or modifiers, e.g.
// "System.Collections.Generic.List`1+Enumerator".
func (t TypeName) FullName() string {
	var b strings.Builder
	if t.Namespace != "" {
		b.WriteString(t.Namespace)
		b.WriteByte('.')
	}
	for _, seg := range t.NestedPath {
		b.WriteString(seg)
		b.WriteByte('+')
	}
	b.WriteString(t.Name)
	return b.String()
}

// String renders the TypeName back into assembly-qualified form, modifiers
// applied in their original declaration order.
func (t TypeName) String() string {
	var b strings.Builder
	b.WriteString(t.FullName())
	for _, m := range t.Modifiers {
		b.WriteString(m.String())
	}
	if t.AssemblyFullName != "" {
		b.WriteString(", ")
		b.WriteString(t.AssemblyFullName)
	}
	return b.String()
}

// IsNested reports whether the type is declared inside an enclosing type.
func (t TypeName) IsNested() bool {
	return len(t.NestedPath) > 0
}
