package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-lanekeeper/config"
	"github.com/nvr-ai/go-lanekeeper/lane"
)

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			raw, err := config.Marshal(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# fallback bias: %.6f rad\n", lane.FallbackBias(cfg.Pipeline))
			_, err = out.Write(raw)
			return err
		},
	}
}
