package main

import (
	"fmt"

	cobra "github.com/spf13/cobra"
)

// NewVersionCommand creates a version sub-command which prints the application version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the application's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", binVersion)
			return nil
		},
	}
}
