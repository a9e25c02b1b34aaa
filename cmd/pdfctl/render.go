package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdfdispatch/internal/pdf"
)

func renderCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render [text]",
		Short: "Render text locally with the worker's layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact, err := pdf.Render(args[0])
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, artifact.Body, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, artifact.Size())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "out"+pdf.Extension, "Output file")

	return cmd
}
