// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath  string
	logLevel    string
	quiet       bool
	metricsAddr string
}

// growOptions are the flags of the grow command.
type growOptions struct {
	threshold float64
	workers   int
	top       int
	json      bool
	splices   bool
	expert    bool
	progress  bool
}

func newRootCmd() *cobra.Command {
	var ro rootOptions

	root := &cobra.Command{
		Use:   "worms",
		Short: "Search fragment chains for symmetric assemblies",
		Long: `worms chains structural fragments through their splice sites and
keeps every chain whose end-to-end geometry satisfies a symmetry.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&ro.configPath, "config", "", "settings file (YAML or JSON)")
	root.PersistentFlags().StringVar(&ro.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	root.PersistentFlags().BoolVarP(&ro.quiet, "quiet", "q", false, "disable console logging")
	root.PersistentFlags().StringVar(&ro.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")

	root.AddCommand(
		newGrowCmd(&ro),
		newCheckCmd(&ro),
		newVersionCmd(),
	)
	return root
}

func newGrowCmd(ro *rootOptions) *cobra.Command {
	var opts growOptions
	cmd := &cobra.Command{
		Use:   "grow PROBLEM",
		Short: "Run the search and print the hits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrow(cmd, ro, &opts, args[0])
		},
	}
	f := cmd.Flags()
	f.Float64Var(&opts.threshold, "threshold", 0, "keep chains scoring below this (0 uses config)")
	f.IntVarP(&opts.workers, "workers", "j", -1, "worker count, 0 for all CPUs (-1 uses config)")
	f.IntVar(&opts.top, "top", 20, "hits to print, 0 for all")
	f.BoolVar(&opts.json, "json", false, "print JSON instead of a table")
	f.BoolVar(&opts.splices, "splices", false, "include the splice report of each hit")
	f.BoolVar(&opts.expert, "expert", false, "downgrade overridable checks to warnings")
	f.BoolVar(&opts.progress, "progress", true, "report job progress on stderr")
	return cmd
}

func newCheckCmd(ro *rootOptions) *cobra.Command {
	var expert bool
	cmd := &cobra.Command{
		Use:   "check PROBLEM",
		Short: "Build the problem and validate its topology without searching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, ro, expert, args[0])
		},
	}
	cmd.Flags().BoolVar(&expert, "expert", false, "downgrade overridable checks to warnings")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "worms %s\n", version)
		},
	}
}
