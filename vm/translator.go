// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"context"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// VirtualizedMethod is one worklist entry: a method needing translation,
// identified by name for reporting, and the byte offset in the instruction
// CipherStream where its virtual body begins.
type VirtualizedMethod struct {
	Name           string
	StreamPosition int64
}

// TranslateAll runs MethodTranslator over every entry in methods,
// optionally fanning out across workers (spec.md §5: "MethodTranslator
// over the per-method worklist is embarrassingly parallel after
// OpcodeTable is finalized"). Each worker clones its own instruction
// CipherStream cursor; the resolver stream is shared and internally
// serializes seek+read pairs (vm.Resolver.Resolve).
func TranslateAll(ctx context.Context, base *CipherStream, opcodes *OpcodeTable, resolver *Resolver, methods []VirtualizedMethod, workers int) (map[string]*TranslatedMethod, *Report) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	report := &Report{}
	results := make(map[string]*TranslatedMethod, len(methods))
	var resultsMu sync.Mutex

	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	for _, m := range methods {
		m := m
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			cursor := base.Clone()
			if _, err := cursor.Seek(m.StreamPosition, io.SeekStart); err != nil {
				report.Add(&Fault{Method: m.Name, Message: err.Error()})
				return nil
			}

			translator := NewMethodTranslator(opcodes, resolver)
			translated, fault := translator.Translate(cursor, m.Name)
			if fault != nil {
				report.Add(fault)
				return nil
			}

			report.MarkResolved()
			resultsMu.Lock()
			results[m.Name] = translated
			resultsMu.Unlock()
			return nil
		})
	}

	// A nil error here only means no worker returned a hard Go error; every
	// per-method failure already went into report instead, per spec.md §7's
	// "per-method errors accumulate in a report" propagation policy.
	_ = g.Wait()

	return results, report
}
