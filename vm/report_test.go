// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportAddAndMarkResolvedConcurrently(t *testing.T) {
	report := &Report{}
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				report.MarkResolved()
			} else {
				report.Add(&Fault{Kind: KindUnidentified, Message: "synthetic"})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, report.Resolved)
	assert.Equal(t, 25, report.Skipped)
	assert.Len(t, report.Faults, 25)
}

func TestFaultErrorIncludesMethodWhenSet(t *testing.T) {
	withMethod := &Fault{Method: "Foo::Bar", Message: "boom"}
	assert.Equal(t, "Foo::Bar: boom", withMethod.Error())

	withoutMethod := &Fault{Message: "boom"}
	assert.Equal(t, "boom", withoutMethod.Error())
}
