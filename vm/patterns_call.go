// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

// EazCallPattern recognizes the dynamic-invoke handler body: resolve the
// callee off the instruction's own operand, gather arguments off the VM's
// evaluation stack, invoke, and box/push whatever it returns. Unlike every
// other pattern in this catalog its virtual_code is not fixed across builds
// (spec.md §9 Open Questions) — there is no ECMA-335 or CLR precedent for a
// "call a resolved method dynamically" opcode, so this is identified by its
// handler's shape like anything else HandlerMatcher resolves, never by a
// hardcoded virtual_code.
//
// A successful match resolves to CIL Callvirt: readInstructions already
// resolves this instruction's InlineTok/InlineMethod operand through the
// Resolver (the same path every other InlineMethod-carrying opcode uses),
// so the emitted instruction is an ordinary "callvirt <resolved callee>" —
// there is no separate pseudo-opcode in the translated output.
var EazCallPattern = Pattern{
	Name:            "EazCall",
	MatchEntireBody: true,
	Prototype:       []OpCode{Ldarg0, Callvirt, Callvirt, Newobj, Callvirt, Ret},
	TargetCIL:       Callvirt,
	TargetSpecial:   EazCall,
}

func init() {
	register(EazCallPattern)
}
