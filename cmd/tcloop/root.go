package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	cobra "github.com/spf13/cobra"

	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/config"
	"github.com/itohio/tcloop/pkg/nvm"
)

var binVersion = "dev"

// rootContext is cancelled on SIGINT or SIGTERM.
func rootContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("%v: cleaning up...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// Execute builds the command tree and runs it.
func Execute(version string) error {
	binVersion = version
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "tcloop",
		Short:        "tcloop is a thermocouple to 4-20 mA transmitter",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Configuration file path.")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewCalibrateCommand())
	rootCmd.AddCommand(NewShowCalCommand())
	rootCmd.AddCommand(NewPortsCommand())
	rootCmd.AddCommand(NewVersionCommand())
	return rootCmd
}

// loadConfig reads the --config file, applies environment overrides and
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the calibration flash described by cfg.
func openStore(cfg *config.Config) (*calib.Store, error) {
	opts := []nvm.Option{
		nvm.WithGeometry(cfg.Storage.Address, cfg.Storage.PageSize, 1),
	}
	var flash *nvm.Emulated
	if cfg.Storage.File == "" {
		flash = nvm.NewEmulated(opts...)
	} else {
		var err error
		flash, err = nvm.OpenFile(cfg.Storage.File, opts...)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}
	return calib.NewStore(flash, cfg.Storage.Address), nil
}
