// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import "sync"

// Report accumulates per-method and per-opcode faults across a
// translation run without aborting it (spec.md §7: "no error is ever
// swallowed silently"). Safe for concurrent use by TranslateAll's workers.
type Report struct {
	mu       sync.Mutex
	Faults   []*Fault
	Resolved int
	Skipped  int
}

// Add records a fault and marks one more method as skipped.
func (r *Report) Add(f *Fault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Faults = append(r.Faults, f)
	r.Skipped++
}

// MarkResolved records one more successfully translated method.
func (r *Report) MarkResolved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Resolved++
}
