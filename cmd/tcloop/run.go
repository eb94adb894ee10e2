package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	cobra "github.com/spf13/cobra"

	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/config"
	"github.com/itohio/tcloop/pkg/report"
	"github.com/itohio/tcloop/pkg/sim"
	"github.com/itohio/tcloop/pkg/wire"
)

// NewRunCommand runs the transmitter on simulated hardware.
func NewRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the transmitter on simulated hardware",
		Long: "Runs the transmitter on simulated hardware. Press c then return to " +
			"calibrate the output while it runs.",
		RunE: handleRunCmd,
	}

	runCmd.Flags().String("mode", "", "Calibration source override: default, interactive or stored.")
	runCmd.Flags().Float64("process", 0, "Simulated process temperature override (°C).")
	runCmd.Flags().String("http", "", "Status API address override, e.g. :8080.")
	runCmd.Flags().Uint64("log-every", 0, "Log every Nth cycle, 0 disables the cycle log.")

	return runCmd
}

func handleRunCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	mode, err := cfg.CalibrationMode()
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	reporters, closeReporters, err := newReporters(cfg, cmd)
	if err != nil {
		return err
	}
	defer closeReporters()

	rec := cfg.DefaultRecord()
	if mode == calib.ModeStored {
		stored, err := calib.Resolve(ctx, mode, calib.Sources{Store: store})
		if err == nil {
			rec = stored
		}
	}

	rig, err := sim.NewRig(cfg, rec, reporters)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- rig.Run(ctx) }()

	if cfg.Report.HTTP.Addr != "" {
		go func() {
			if err := report.Serve(ctx, cfg.Report.HTTP.Addr, rig.Instrument); err != nil {
				log.Printf("status API: %v", err)
			}
		}()
	}

	keys := readKeys(ctx, cmd.InOrStdin())
	if mode == calib.ModeInteractive {
		calibrate(ctx, rig, cfg, keys, store)
	}

	for {
		select {
		case k, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if k == calib.KeyCalibrate {
				dropLine(keys)
				calibrate(ctx, rig, cfg, keys, store)
			}
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("mode") {
		cfg.Calibration.Mode, _ = cmd.Flags().GetString("mode")
	}
	if cmd.Flags().Changed("process") {
		cfg.Sim.ProcessCelsius, _ = cmd.Flags().GetFloat64("process")
	}
	if cmd.Flags().Changed("http") {
		cfg.Report.HTTP.Addr, _ = cmd.Flags().GetString("http")
	}
	return cfg.Validate()
}

// newReporters builds the configured sinks. Network sinks run behind
// report.Async so a stalled peer never delays a cycle.
func newReporters(cfg *config.Config, cmd *cobra.Command) (report.Multi, func(), error) {
	var (
		multi   report.Multi
		closers []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Printf("report: %v", err)
			}
		}
	}

	out := cmd.OutOrStdout()
	if cfg.Report.CSV {
		multi = append(multi, wire.NewReporter(out))
	}
	if cfg.Report.Text {
		multi = append(multi, report.NewText(out))
	}
	if every, _ := cmd.Flags().GetUint64("log-every"); every > 0 {
		multi = append(multi, report.Log{Every: every})
	}

	if m := cfg.Report.Modbus; m.Endpoint != "" {
		mb, err := report.NewModbus(report.ModbusConfig{
			Endpoint: m.Endpoint,
			UnitID:   m.UnitID,
			Address:  m.Address,
			Timeout:  m.Timeout,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("modbus: %w", err)
		}
		a := report.NewAsync(mb, report.DefaultBufferSize)
		multi = append(multi, a)
		closers = append(closers, a)
	}

	if p := cfg.Report.Postgres; p.URL != "" {
		h, err := report.OpenHistory(p.URL, p.Password, p.BatchSize)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		a := report.NewAsync(h, report.DefaultBufferSize)
		multi = append(multi, a)
		closers = append(closers, a)
	}

	return multi, closeAll, nil
}

// calibrate runs the procedure on a live rig, prompting on stderr.
func calibrate(ctx context.Context, rig *sim.Rig, cfg *config.Config, keys <-chan byte, store *calib.Store) {
	proc := &calib.Procedure{
		Keys:    keys,
		Top:     cfg.Output.Top,
		Timeout: cfg.Calibration.Timeout,
		Logf:    prompt,
	}
	rec, err := rig.Calibrate(ctx, proc, store)
	switch {
	case errors.Is(err, sim.ErrNotSaved):
		prompt("%v", err)
	case err != nil:
		prompt("Calibration failed, keeping the active record: %v", err)
		return
	}
	prompt("Calibration active: 4 mA = %d, 20 mA = %d", rec.Code4mA, rec.Code20mA)
}

func prompt(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
