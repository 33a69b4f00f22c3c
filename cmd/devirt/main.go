// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command devirt recovers the CIL of a .NET assembly protected by
// Eazfuscator.NET's virtualization feature.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	peparser "github.com/saferwall/eazdevirt"
	"github.com/saferwall/eazdevirt/log"
	"github.com/saferwall/eazdevirt/vm"
)

var (
	outputPath string
	workers    int
	verbosity  int
)

func main() {
	root := &cobra.Command{
		Use:          "devirt <assembly>",
		Short:        "Recover CIL from an Eazfuscator.NET-virtualized .NET assembly",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVarP(&outputPath, "output", "o", "", "write the recovered IL dump to this path instead of stdout")
	root.Flags().IntVar(&workers, "workers", 0, "MethodTranslator fan-out width (0 = GOMAXPROCS)")
	root.Flags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func levelFor(v int) log.Level {
	switch {
	case v >= 2:
		return log.LevelDebug
	case v == 1:
		return log.LevelInfo
	default:
		return log.LevelWarn
	}
}

func run(cmd *cobra.Command, args []string) error {
	path := args[0]
	logger := log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(levelFor(verbosity)))
	helper := log.NewHelper(logger)

	pf, err := peparser.New(path, &peparser.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer pf.Close()

	if err := pf.Parse(); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	pipeline := vm.NewPipeline(pf)

	helper.Infof("locating VM resource")
	if err := pipeline.LocateResource(); err != nil {
		return fmt.Errorf("locate resource: %w", err)
	}

	helper.Infof("scanning dispatcher constructor")
	if err := pipeline.DiscoverOpcodeTable(); err != nil {
		return fmt.Errorf("discover opcode table: %w", err)
	}
	helper.Debugf("opcode table resolved %d virtual codes", pipeline.Opcodes.Len())

	methods, err := vm.DiscoverVirtualizedMethods(pipeline.MatchContext(), pipeline.VMType)
	if err != nil {
		return fmt.Errorf("discover virtualized methods: %w", err)
	}
	helper.Infof("found %d virtualized methods", len(methods))

	ctx := context.Background()
	translated := pipeline.TranslateVirtualizedMethods(ctx, methods, workers)

	out, closeFn, err := openOutput(outputPath)
	if err != nil {
		return err
	}
	defer closeFn()

	writeDump(out, translated)
	writeReportSummary(out, pipeline.Report, helper)

	if len(translated) == 0 && len(methods) > 0 {
		return fmt.Errorf("devirt: every virtualized method failed to translate")
	}
	return nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}

func writeDump(w io.Writer, methods map[string]*vm.TranslatedMethod) {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := methods[name]
		fmt.Fprintf(w, ".method %s\n", name)
		fmt.Fprintf(w, "{\n\t.maxstack %d\n", m.Header.MaxStack)
		if m.Header.InitLocals {
			fmt.Fprintf(w, "\t.locals init (%#x)\n", m.Header.LocalVarSigTok)
		}
		for _, inst := range m.Instructions {
			fmt.Fprintf(w, "\tIL_%04x: %s\n", inst.Offset, formatInstruction(inst))
		}
		for _, h := range m.ExceptionHandlers {
			fmt.Fprintf(w, "\t.try IL_%04x to IL_%04x handler IL_%04x (%s)\n",
				h.TryStart, h.TryStart+h.TryLength, h.HandlerStart, kindName(h.Kind))
		}
		fmt.Fprintln(w, "}")
	}
}

func formatInstruction(inst vm.TranslatedInstruction) string {
	if !inst.Opcode.Identified {
		return "<unidentified>"
	}

	// EazCall resolves to a genuine CIL Callvirt (vm/patterns_call.go) with
	// its callee already resolved through the same Resolver path every other
	// InlineMethod operand uses, so it needs no special formatting here.
	name := inst.Opcode.CIL.Name()
	switch {
	case inst.HasResolved:
		return fmt.Sprintf("%s %s", name, inst.Resolved.QualifiedName)
	case len(inst.BranchTargets) > 0:
		return fmt.Sprintf("%s IL_%04x", name, inst.BranchTargets[0])
	case inst.FloatOperand != 0:
		return fmt.Sprintf("%s %v", name, inst.FloatOperand)
	default:
		return fmt.Sprintf("%s %d", name, inst.IntOperand)
	}
}

func kindName(k vm.ExceptionHandlerKind) string {
	name, err := vm.CILHandlerKind(k)
	if err != nil {
		return fmt.Sprintf("kind%d", int(k))
	}
	return name
}

func writeReportSummary(w io.Writer, report *vm.Report, helper *log.Helper) {
	fmt.Fprintf(w, "\n; resolved=%d skipped=%d\n", report.Resolved, report.Skipped)
	for _, f := range report.Faults {
		helper.Warnf("%s: %s", f.Kind, f.Error())
		fmt.Fprintf(w, "; fault[%s] %s\n", f.Kind, f.Error())
	}
}
