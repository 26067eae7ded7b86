// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"doa/internal/audio"
	"doa/internal/config"
	applog "doa/internal/log"
	"doa/internal/tui"
	"doa/pkg/build"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
}

// runFlags override configuration values for a single run. Only flags the
// user actually set are applied.
type runFlags struct {
	modelPath   string
	inputPath   string
	outputDir   string
	runtime     string
	keepResults int
	captureWav  string
	device      int
	record      string
	gatePolicy  string
	minInterval time.Duration

	duration time.Duration
	tui      bool
}

// Execute runs the command line with os.Args.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	root.SetArgs(os.Args[1:])
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the doa command tree.
func NewRootCommand() *cobra.Command {
	info := build.Get()
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           info.Name,
		Short:         info.Description,
		Version:       info.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "f", "",
		"Path to a YAML config file. Defaults to ./doa.yaml or ./config.yaml when present.")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.AddCommand(newRunCommand(g, &runFlags{}), newDevicesCommand(g), newVersionCommand())
	return rootCmd
}

func newRunCommand(g *globalFlags, f *runFlags) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the DOA pipeline and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg, f); err != nil {
				return err
			}
			return runPipeline(cmd.Context(), cfg, f)
		},
	}

	// Pipeline Configuration
	runCmd.Flags().StringVarP(&f.modelPath, "model", "m", "", "Model container path")
	runCmd.Flags().StringVarP(&f.inputPath, "input", "i", "", "Raw float32 input tensor path")
	runCmd.Flags().StringVarP(&f.outputDir, "output", "o", config.DefaultOutputDir, "Directory for results and diagnostics")
	runCmd.Flags().StringVarP(&f.runtime, "runtime", "r", config.DefaultRuntime, "Processor to run on: CPU, GPU or DSP (exact, anything else is CPU)")
	runCmd.Flags().IntVar(&f.keepResults, "keep", config.DefaultKeepResults, "Result directories kept on disk, 0 for all")
	runCmd.Flags().DurationVar(&f.minInterval, "min-interval", config.DefaultMinInterval, "Minimum time between executions")

	// Capture and Gate Configuration
	runCmd.Flags().StringVar(&f.captureWav, "wav", "", "Feed the capture ring from a multichannel WAV file")
	runCmd.Flags().IntVarP(&f.device, "device", "d", config.DefaultDeviceID,
		"Feed the capture ring from a PortAudio input device. Use 'devices' to see available devices.")
	runCmd.Flags().StringVar(&f.record, "record", "", "Record captured frames to this WAV file")
	runCmd.Flags().StringVarP(&f.gatePolicy, "gate", "g", config.DefaultGatePolicy, "Gate policy: always or energy")

	// Session Control
	runCmd.Flags().DurationVar(&f.duration, "duration", 0, "Stop after this long, 0 runs until interrupted")
	runCmd.Flags().BoolVar(&f.tui, "tui", false, "Show the live status view")
	return runCmd
}

func newDevicesCommand(g *globalFlags) *cobra.Command {
	var pick bool
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer func() {
				if err := audio.Terminate(); err != nil {
					applog.Warnf("portaudio terminate: %v", err)
				}
			}()

			if !pick {
				return audio.ListDevices(cmd.OutOrStdout())
			}
			id, err := tui.SelectDevice(cfg.DSP.Channels)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selected device %d. Run with --device %d.\n", id, id)
			return nil
		},
	}
	devicesCmd.Flags().BoolVarP(&pick, "interactive", "p", false,
		"Pick a device with the interactive list")
	return devicesCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.Get())
		},
	}
}

// loadConfig reads the config file and configures logging from it.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.verbose {
		cfg.Debug = true
	}
	level := cfg.LogLevel
	if cfg.Debug {
		level = applog.LevelDebug.String()
	}
	if err := applog.Configure(level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRunFlags copies the flags the user set over cfg and revalidates.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, f *runFlags) error {
	set := cmd.Flags().Changed

	if set("model") {
		cfg.Pipeline.ModelPath = f.modelPath
	}
	if set("input") {
		cfg.Pipeline.InputPath = f.inputPath
	}
	if set("output") {
		cfg.Pipeline.OutputDir = f.outputDir
	}
	if set("runtime") {
		cfg.Pipeline.Runtime = f.runtime
	}
	if set("keep") {
		cfg.Pipeline.KeepResults = f.keepResults
	}
	if set("min-interval") {
		cfg.Timing.MinInterval = f.minInterval
	}
	if set("wav") && set("device") {
		return fmt.Errorf("--wav and --device are mutually exclusive")
	}
	if set("wav") {
		cfg.Capture.Kind = config.CaptureWAV
		cfg.Capture.File = f.captureWav
	}
	if set("device") {
		cfg.Capture.Kind = config.CapturePortAudio
		cfg.Capture.Device = f.device
	}
	if set("record") {
		cfg.Capture.RecordFile = f.record
	}
	if set("gate") {
		cfg.Gate.Policy = f.gatePolicy
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
