package main

import (
	"fmt"

	cobra "github.com/spf13/cobra"

	"github.com/itohio/tcloop/pkg/link"
)

// NewPortsCommand lists the serial ports a transmitter may be attached to.
func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "Lists available serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := link.Ports()
			if err != nil {
				return fmt.Errorf("failed to list ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No serial ports found")
				return nil
			}
			for _, p := range ports {
				if p.Description != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Name, p.Description)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), p.Name)
				}
			}
			return nil
		},
	}
}
