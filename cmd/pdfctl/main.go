package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pdfctl",
		Short:         "Operate the PDF dispatch pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(statCmd())
	rootCmd.AddCommand(lsCmd())

	return rootCmd
}
