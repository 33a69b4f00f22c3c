// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findPattern(t *testing.T, name string) Pattern {
	t.Helper()
	for _, p := range Catalog {
		if p.Name == name {
			return p
		}
	}
	require.Failf(t, "pattern not registered", "wanted %q", name)
	return Pattern{}
}

func TestBinaryOpPatternMatches(t *testing.T) {
	p := findPattern(t, "BinaryOp_add")
	body := []Instruction{
		{Opcode: Ldarg0},
		{Opcode: Callvirt},
		{Opcode: Callvirt},
		{Opcode: Add},
		{Opcode: Newobj},
		{Opcode: Callvirt},
		{Opcode: Ret},
	}

	idx, ok := p.Matches(nil, body)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, Add, p.Resolve().CIL)
	assert.True(t, p.Resolve().Identified)
}

func TestBinaryOpPatternRejectsWrongOperator(t *testing.T) {
	p := findPattern(t, "BinaryOp_add")
	body := []Instruction{
		{Opcode: Ldarg0},
		{Opcode: Callvirt},
		{Opcode: Callvirt},
		{Opcode: Sub}, // wrong embedded opcode
		{Opcode: Newobj},
		{Opcode: Callvirt},
		{Opcode: Ret},
	}

	_, ok := p.Matches(nil, body)
	assert.False(t, ok)
}

func TestUnaryAndConversionFamiliesAreFullyRegistered(t *testing.T) {
	for _, op := range unaryOpHandlers {
		findPattern(t, "UnaryOp_"+op.Name())
	}
	for _, op := range comparisonHandlers {
		findPattern(t, "Compare_"+op.Name())
	}
	for _, op := range conversionHandlers {
		findPattern(t, "Convert_"+op.Name())
	}
}

func TestDupAndPopPatterns(t *testing.T) {
	dup := findPattern(t, "Dup")
	body := []Instruction{
		{Opcode: Ldarg0}, {Opcode: Callvirt}, {Opcode: Dup},
		{Opcode: Callvirt}, {Opcode: Callvirt}, {Opcode: Ret},
	}
	_, ok := dup.Matches(nil, body)
	assert.True(t, ok)

	pop := findPattern(t, "Pop")
	popBody := []Instruction{{Opcode: Ldarg0}, {Opcode: Callvirt}, {Opcode: Pop}, {Opcode: Ret}}
	_, ok = pop.Matches(nil, popBody)
	assert.True(t, ok)
}
