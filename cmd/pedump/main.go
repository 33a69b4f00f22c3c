// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command pedump dumps the headers, sections and CLR/.NET metadata of a
// Portable Executable file — the surface this module's assembly reader
// actually parses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfg config

type config struct {
	wantDOSHeader bool
	wantNTHeader  bool
	wantSections  bool
	wantCLR       bool
	wantAll       bool
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "pedump",
		Short: "Dump PE headers, sections and .NET CLR metadata",
		Long:  "A trimmed PE/.NET assembly dumper built for eazdevirt's assembly reader",
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("pedump version 1.0.0")
		},
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump <file>",
		Short: "Dump the parsed structure of a PE/.NET assembly",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			for _, path := range args {
				dump(path, cfg)
			}
		},
	}

	dumpCmd.Flags().BoolVar(&cfg.wantDOSHeader, "dosheader", false, "dump the DOS header")
	dumpCmd.Flags().BoolVar(&cfg.wantNTHeader, "ntheader", false, "dump the NT header")
	dumpCmd.Flags().BoolVar(&cfg.wantSections, "sections", false, "dump section headers")
	dumpCmd.Flags().BoolVar(&cfg.wantCLR, "clr", false, "dump the CLR header and .NET metadata")
	dumpCmd.Flags().BoolVar(&cfg.wantAll, "all", false, "dump everything")

	rootCmd.AddCommand(versionCmd, dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
