package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-lanekeeper/config"
	"github.com/nvr-ai/go-lanekeeper/controller"
	"github.com/nvr-ai/go-lanekeeper/framebuffer"
	"github.com/nvr-ai/go-lanekeeper/monitoring"
	"github.com/nvr-ai/go-lanekeeper/od4"
	"github.com/nvr-ai/go-lanekeeper/profiler"
	"github.com/nvr-ai/go-lanekeeper/recorder"
	"github.com/nvr-ai/go-lanekeeper/statusapi"
	"github.com/nvr-ai/go-lanekeeper/telemetry"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Estimate and publish steering angles from a live or recorded source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			device, _ := flags.GetInt("device")
			video, _ := flags.GetString("video")
			replay, _ := flags.GetString("replay")
			in, err := validateInputFlags(device, video, replay)
			if err != nil {
				return err
			}
			in.Interval, _ = flags.GetDuration("interval")
			in.Loop, _ = flags.GetBool("loop")

			opts := runOptions{input: in}
			opts.noTransport, _ = flags.GetBool("no-transport")
			opts.window, _ = flags.GetBool("window")
			opts.profileInterval, _ = flags.GetDuration("profile-interval")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts)
		},
	}

	f := cmd.Flags()
	f.Int("device", 0, "Camera device index")
	f.String("video", "", "Video file to process instead of the camera")
	f.String("replay", "", "Directory of frame-<n> images to replay instead of the camera")
	f.Duration("interval", 50*time.Millisecond, "Delay between replayed frames")
	f.Bool("loop", false, "Restart the replay after the last frame")
	f.Int("cid", 0, "OD4 conference id")
	f.Uint32("sender-stamp", 0, "Sender stamp of published messages")
	f.Bool("steering-request", false, "Also publish GroundSteeringRequest")
	f.Bool("no-transport", false, "Do not join the OD4 session")
	f.String("status-addr", "", "Listen address of the status API (disabled when empty)")
	f.String("record", "", "SQLite file receiving per-cycle diagnostics")
	f.String("preview-dir", "", "Directory receiving annotated previews when verbose")
	f.Bool("window", false, "Show annotated previews in a window when verbose")
	f.Duration("profile-interval", 0, "Log stage timings at this interval (disabled when zero)")
	return cmd
}

type runOptions struct {
	input           InputConfig
	noTransport     bool
	window          bool
	profileInterval time.Duration
}

func run(ctx context.Context, cfg config.Config, opts runOptions) error {
	log := monitoring.L()

	buf, err := framebuffer.NewShared(cfg.Frame.Width, cfg.Frame.Height, cfg.Frame.Channels)
	if err != nil {
		return err
	}

	producer, err := openProducer(opts.input)
	if err != nil {
		return err
	}
	defer producer.Close()

	reportInterval := opts.profileInterval
	if reportInterval <= 0 {
		reportInterval = -1
	}
	prof := profiler.New(profiler.Options{ReportInterval: reportInterval})
	pipeline := controller.NewPipeline(cfg.Pipeline).WithProfiler(prof)

	var cycles statusapi.CycleSource
	loopOpts := controller.LoopOptions{
		SenderStamp: cfg.Transport.SenderStamp,
		Verbose:     cfg.Verbose,
		Profiler:    prof,
	}

	if cfg.RecordPath != "" {
		raw, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		store, err := recorder.Open(cfg.RecordPath, raw)
		if err != nil {
			return err
		}
		defer store.Close()
		loopOpts.Recorder = store
		cycles = store
		log.Info("recording cycles", "path", cfg.RecordPath, "run_id", store.RunID())
	}

	if cfg.Verbose {
		switch {
		case cfg.PreviewDir != "":
			sink, err := controller.NewDirPreview(cfg.PreviewDir)
			if err != nil {
				return err
			}
			loopOpts.Preview = sink
		case opts.window:
			sink := controller.NewWindowPreview("lanekeeper")
			defer sink.Close()
			loopOpts.Preview = sink
		}
	}

	distances := telemetry.NewDistanceCache()
	var publisher controller.Publisher
	var session *od4.Session
	if !opts.noTransport {
		session, err = od4.Open(cfg.Transport.CID)
		if err != nil {
			return err
		}
		defer session.Close()
		session.Handle(od4.DistanceReadingID, od4.DistanceHandler(distances))
		publisher = od4.NewPublisher(session, cfg.Transport.SteeringRequest)
	}

	loop := controller.NewLoop(buf, pipeline, publisher, loopOpts)
	prof.AddMetricsCollector(loop)
	if session != nil {
		prof.AddMetricsCollector(sessionMetrics{session})
	}

	g, ctx := errgroup.WithContext(ctx)
	prof.Start(ctx)
	defer prof.Stop()

	producerDone := make(chan error, 1)
	g.Go(func() error {
		defer buf.Close()
		producerDone <- producer.Run(ctx, buf)
		return nil
	})

	g.Go(func() error {
		err := loop.Run(ctx)
		if errors.Is(err, framebuffer.ErrSourceClosed) {
			// The producer closes the buffer only after Run returned.
			if err = <-producerDone; err == nil {
				log.Info("frame source exhausted", "stats", loop.Stats())
			}
		}
		if err == nil {
			// Stop the session and status API once the loop is done.
			return context.Canceled
		}
		return err
	})

	if session != nil {
		g.Go(func() error { return session.Run(ctx) })
	}

	if cfg.StatusAddr != "" {
		router := statusapi.NewRouter(statusapi.Sources{Steering: loop, Distances: distances, Profile: prof, Cycles: cycles})
		g.Go(func() error { return statusapi.Serve(ctx, cfg.StatusAddr, router) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped", "stats", loop.Stats())
	return nil
}

type sessionMetrics struct {
	s *od4.Session
}

func (m sessionMetrics) CollectMetrics() map[string]float64 {
	sent, received, dropped := m.s.Stats()
	return map[string]float64{
		"od4_sent":     float64(sent),
		"od4_received": float64(received),
		"od4_dropped":  float64(dropped),
	}
}
