// Package cmd implements the lanekeeper command line.
package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-lanekeeper/config"
	"github.com/nvr-ai/go-lanekeeper/lane"
	"github.com/nvr-ai/go-lanekeeper/monitoring"
)

// NewRootCommand builds the lanekeeper command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "lanekeeper",
		Short: "Lane-centering steering estimator",
		Long: `Lanekeeper segments the two colored lane markers in each camera frame,
locates the lane center and publishes the steering angle that points the
vehicle at it.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "YAML configuration file (defaults are used when empty)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: text or json")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log per-cycle diagnostics and save or show previews")

	root.AddCommand(newRunCommand(), newEstimateCommand(), newConfigCommand())
	return root
}

// Execute runs the command line. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, applies flag overrides, validates
// the result and installs the logger it describes.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if f := flags.Lookup("cid"); f != nil && f.Changed {
		cfg.Transport.CID, _ = flags.GetInt("cid")
	}
	if f := flags.Lookup("sender-stamp"); f != nil && f.Changed {
		cfg.Transport.SenderStamp, _ = flags.GetUint32("sender-stamp")
	}
	if f := flags.Lookup("steering-request"); f != nil && f.Changed {
		cfg.Transport.SteeringRequest, _ = flags.GetBool("steering-request")
	}
	if f := flags.Lookup("status-addr"); f != nil && f.Changed {
		cfg.StatusAddr, _ = flags.GetString("status-addr")
	}
	if f := flags.Lookup("record"); f != nil && f.Changed {
		cfg.RecordPath, _ = flags.GetString("record")
	}
	if f := flags.Lookup("preview-dir"); f != nil && f.Changed {
		cfg.PreviewDir, _ = flags.GetString("preview-dir")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	level := cfg.Log.Level
	if cfg.Verbose && !flags.Changed("log-level") {
		level = "debug"
	}
	monitoring.Setup(monitoring.Config{Level: level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})

	if bias := lane.FallbackBias(cfg.Pipeline); bias != 0 {
		monitoring.L().Warn("fallback points are not symmetric about the vehicle axis; total detection loss will steer",
			"bias_rad", bias,
			"fallback_a", cfg.Pipeline.FallbackA,
			"fallback_b", cfg.Pipeline.FallbackB,
		)
	}
	return cfg, nil
}

// errUsage marks invalid flag combinations.
var errUsage = errors.New("invalid usage")
