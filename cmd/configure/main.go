package main

import (
	"fmt"
	"os"

	"github.com/parleybot/parley/cmd/configure/commands"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "parley-configure",
		Short: "Configuration tool for the Parley conversation service",
		Long:  "CLI tool for inspecting routing policies, user preferences and session maintenance",
	}

	rootCmd.AddCommand(commands.NewPolicyCmd())
	rootCmd.AddCommand(commands.NewPrefsCmd())
	rootCmd.AddCommand(commands.NewSweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
