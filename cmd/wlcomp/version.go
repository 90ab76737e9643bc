package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wlcomp version %s\n", Version)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Printf("built with %s\n", info.GoVersion)
		}
	},
}
