// Package statusapi serves a read-only HTTP view of the estimator state.
package statusapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-lanekeeper/controller"
	"github.com/nvr-ai/go-lanekeeper/monitoring"
	"github.com/nvr-ai/go-lanekeeper/profiler"
	"github.com/nvr-ai/go-lanekeeper/recorder"
	"github.com/nvr-ai/go-lanekeeper/telemetry"
)

// Limits of the cycles listing.
const (
	DefaultCycleLimit = 20
	MaxCycleLimit     = 1000
)

// SteeringSource exposes the latest loop output.
type SteeringSource interface {
	Last() (controller.Steering, bool)
	Stats() controller.LoopStats
}

// DistanceSource exposes the latest distance readings.
type DistanceSource interface {
	Snapshot() telemetry.Distances
}

// ProfileSource exposes stage timings.
type ProfileSource interface {
	Snapshot() profiler.Snapshot
}

// CycleSource exposes recorded cycle diagnostics.
type CycleSource interface {
	Recent(ctx context.Context, limit int) ([]recorder.Record, error)
	Runs(ctx context.Context) ([]recorder.Run, error)
}

// Sources bundles the state the API reads. Distances, Profile and Cycles may be nil.
type Sources struct {
	Steering  SteeringSource
	Distances DistanceSource
	Profile   ProfileSource
	Cycles    CycleSource
}

// NewRouter registers the status routes.
func NewRouter(src Sources) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", health)
	r.HEAD("/healthz", health)

	v1 := r.Group("/v1")
	v1.GET("/steering", steering(src.Steering))
	v1.GET("/distances", distances(src.Distances))
	v1.GET("/profile", profile(src.Profile))
	v1.GET("/cycles", cycles(src.Cycles))
	v1.GET("/runs", runs(src.Cycles))
	return r
}

func health(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func steering(src SteeringSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		st, ok := src.Last()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no estimate yet", "stats": src.Stats()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"steering": st, "stats": src.Stats()})
	}
}

type distanceView struct {
	Distance float32   `json:"distance"`
	Sampled  time.Time `json:"sampled"`
}

func distances(src DistanceSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		out := map[string]distanceView{}
		if src != nil {
			for sensor, r := range src.Snapshot() {
				out[sensor.String()] = distanceView{Distance: r.Distance, Sampled: r.Sampled}
			}
		}
		c.JSON(http.StatusOK, gin.H{"distances": out})
	}
}

func profile(src ProfileSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "profiling disabled"})
			return
		}
		c.JSON(http.StatusOK, src.Snapshot())
	}
}

func cycles(src CycleSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "recording disabled"})
			return
		}

		limit := DefaultCycleLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > MaxCycleLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer in 1.." + strconv.Itoa(MaxCycleLimit)})
				return
			}
			limit = n
		}

		records, err := src.Recent(c.Request.Context(), limit)
		if err != nil {
			monitoring.L().Warn("list cycles", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot read cycles"})
			return
		}
		if records == nil {
			records = []recorder.Record{}
		}
		c.JSON(http.StatusOK, gin.H{"cycles": records})
	}
}

func runs(src CycleSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "recording disabled"})
			return
		}
		list, err := src.Runs(c.Request.Context())
		if err != nil {
			monitoring.L().Warn("list runs", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot read runs"})
			return
		}
		if list == nil {
			list = []recorder.Run{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": list})
	}
}

// Serve runs the API on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		monitoring.L().Info("status api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "status api")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "status api shutdown")
		}
		return nil
	}
}
