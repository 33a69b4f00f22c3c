// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpcodeTableLookupKnownAndUnknown(t *testing.T) {
	opcodes := []*VMOpcode{
		{VirtualCode: 1, Resolved: ResolvedOpcode{CIL: Add, Identified: true}},
		{VirtualCode: 55, Resolved: ResolvedOpcode{CIL: Callvirt, Special: EazCall, Identified: true}},
	}
	table := NewOpcodeTable(opcodes)

	assert.Equal(t, Add, table.Lookup(1).Resolved.CIL)
	assert.False(t, table.Lookup(999).Resolved.Identified)
	assert.Equal(t, 2, table.Len())
}

func TestOpcodeTableHasEazCall(t *testing.T) {
	opcodes := []*VMOpcode{
		{VirtualCode: 42, Resolved: ResolvedOpcode{CIL: Nop, Identified: true}},
		{VirtualCode: 55, Resolved: ResolvedOpcode{CIL: Callvirt, Special: EazCall, Identified: true}},
	}
	table := NewOpcodeTable(opcodes)

	assert.True(t, table.HasEazCall([]uint32{7, 55}))
	assert.False(t, table.HasEazCall([]uint32{7, 42}))
}
