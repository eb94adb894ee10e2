package main

import (
	"context"
	"errors"
	"fmt"

	cobra "github.com/spf13/cobra"

	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/loop"
	"github.com/itohio/tcloop/pkg/sim"
)

// NewCalibrateCommand trims both output endpoints and stores the record.
func NewCalibrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "Interactively calibrates the output endpoints and saves them",
		Long: "Drives the output at 20 mA and then 4 mA. Press 1 for more current, " +
			"0 for less and return to accept each endpoint.",
		RunE: handleCalibrateCmd,
	}
}

func handleCalibrateCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	start := cfg.DefaultRecord()
	if stored, err := store.Load(); err == nil {
		start = stored
	}

	rig, err := sim.NewRig(cfg, start, loop.ReporterFunc(func(loop.Event) error { return nil }))
	if err != nil {
		return err
	}
	runCtx, stop := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- rig.Run(runCtx) }()
	defer func() {
		stop()
		<-runErr
	}()

	proc := &calib.Procedure{
		Keys:    readKeys(ctx, cmd.InOrStdin()),
		Top:     cfg.Output.Top,
		Timeout: cfg.Calibration.Timeout,
		Logf:    prompt,
	}
	rec, err := rig.Calibrate(ctx, proc, store)
	if err != nil && !errors.Is(err, sim.ErrNotSaved) {
		return fmt.Errorf("calibration abandoned: %w", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved at 0x%05X: 4 mA = %d, 20 mA = %d\n",
		store.Address(), rec.Code4mA, rec.Code20mA)
	fmt.Fprintf(cmd.OutOrStdout(), "Loop current per code: %.5f mA\n",
		rig.Instrument.Controller().Step())
	return nil
}
