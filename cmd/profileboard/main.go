// Package main provides the profileboard binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/profileboard/profileboard/internal/cli"
	"github.com/profileboard/profileboard/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "profileboard",
		Short:         "profileboard - live HTTP request profiling with a realtime dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(cli.NewServeCmd())
	rootCmd.AddCommand(cli.NewTokenCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.String())
		},
	}
}
