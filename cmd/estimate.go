package cmd

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-lanekeeper/controller"
	"github.com/nvr-ai/go-lanekeeper/monitoring"
)

func newEstimateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate <image>",
		Short: "Estimate the steering angle of a single image and print the diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := validateFile(args[0], supportedImageExtensions); err != nil {
				return err
			}

			img := gocv.IMRead(args[0], gocv.IMReadColor)
			if img.Empty() {
				return errors.Errorf("cannot read image %s", args[0])
			}
			defer img.Close()

			if img.Cols() != cfg.Frame.Width || img.Rows() != cfg.Frame.Height {
				monitoring.L().Info("resizing image to the configured frame size",
					"from", image.Pt(img.Cols(), img.Rows()),
					"to", image.Pt(cfg.Frame.Width, cfg.Frame.Height),
				)
				gocv.Resize(img, &img, image.Pt(cfg.Frame.Width, cfg.Frame.Height), 0, 0, gocv.InterpolationLinear)
			}

			pipeline := controller.NewPipeline(cfg.Pipeline)
			if err := pipeline.Validate(img.Cols(), img.Rows()); err != nil {
				return err
			}
			result, err := pipeline.Process(img)
			if err != nil {
				return err
			}

			est := result.Estimate
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "class %s: %s (mask %d px)\n", cfg.Pipeline.ClassA.Name, est.A, result.AreaA)
			fmt.Fprintf(out, "class %s: %s (mask %d px)\n", cfg.Pipeline.ClassB.Name, est.B, result.AreaB)
			fmt.Fprintf(out, "midpoint: (%.1f,%.1f)\n", est.Midpoint.X, est.Midpoint.Y)
			fmt.Fprintf(out, "projected: (%.1f,%.1f)\n", est.Projected.X, est.Projected.Y)
			fmt.Fprintf(out, "angle: %.6f rad\n", est.Angle)

			if path, _ := cmd.Flags().GetString("preview"); path != "" {
				preview, err := pipeline.Preview(img, result)
				if err != nil {
					return err
				}
				defer preview.Close()
				if ok := gocv.IMWrite(path, preview); !ok {
					return errors.Errorf("write preview %s", path)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringP("preview", "p", "", "Write the annotated working frame to this file")
	return cmd
}
