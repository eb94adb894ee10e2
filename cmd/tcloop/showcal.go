package main

import (
	"errors"
	"fmt"

	cobra "github.com/spf13/cobra"

	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/output"
)

// NewShowCalCommand prints the stored calibration record.
func NewShowCalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show-cal",
		Short: "Prints the stored calibration record",
		RunE:  handleShowCalCmd,
	}
}

func handleShowCalCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	rec, err := store.Load()
	switch {
	case errors.Is(err, calib.ErrBlankRecord):
		rec = cfg.DefaultRecord()
		fmt.Fprintf(out, "No record at 0x%05X, defaults apply\n", store.Address())
	case err != nil:
		rec = cfg.DefaultRecord()
		fmt.Fprintf(out, "Record at 0x%05X rejected (%v), defaults apply\n", store.Address(), err)
	default:
		fmt.Fprintf(out, "Record at 0x%05X\n", store.Address())
	}

	ctrl, err := output.NewController(cfg.Span(), rec, output.WithTop(cfg.Output.Top))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  4 mA code:  %d\n", rec.Code4mA)
	fmt.Fprintf(out, "  20 mA code: %d\n", rec.Code20mA)
	fmt.Fprintf(out, "  step:       %.5f mA per code\n", ctrl.Step())
	return nil
}
