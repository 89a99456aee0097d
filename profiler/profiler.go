// Package profiler keeps rolling timing and value statistics for the
// estimation loop and logs them periodically.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nvr-ai/go-lanekeeper/monitoring"
)

// Stage names recorded by the estimation loop.
const (
	StagePreprocess = "preprocess"
	StageSegment    = "segment"
	StageDenoise    = "denoise"
	StageBoundary   = "boundary"
	StageEstimate   = "estimate"
	StageCycle      = "cycle"
	StagePublish    = "publish"
)

// MetricsCollector contributes gauges sampled at every report.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// Options configures the profiler.
type Options struct {
	// ReportInterval is how often a summary is logged (default: 5s). A
	// negative value disables periodic reports.
	ReportInterval time.Duration
	// Window is the number of most recent samples kept per series (default: 300).
	Window int
}

// Profiler aggregates per-stage durations and named metric values over a
// sliding window.
type Profiler struct {
	reportInterval time.Duration
	window         int

	mu         sync.RWMutex
	startTime  time.Time
	stages     map[string]*series
	metrics    map[string]*series
	collectors []MetricsCollector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// series is a fixed-size window of float samples.
type series struct {
	values []float64
	next   int
	full   bool
	count  int64
}

func (s *series) add(v float64) {
	s.values[s.next] = v
	s.next = (s.next + 1) % len(s.values)
	if s.next == 0 {
		s.full = true
	}
	s.count++
}

func (s *series) stats() Stats {
	n := s.next
	if s.full {
		n = len(s.values)
	}
	if n == 0 {
		return Stats{}
	}
	st := Stats{Count: s.count, Samples: n, Min: s.values[0], Max: s.values[0]}
	sum := 0.0
	for _, v := range s.values[:n] {
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Avg = sum / float64(n)
	st.Last = s.values[(s.next-1+len(s.values))%len(s.values)]
	return st
}

// Stats summarizes one series. Durations are in milliseconds.
type Stats struct {
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Last    float64 `json:"last"`
	Samples int     `json:"samples"`
	Count   int64   `json:"count"`
}

// Snapshot is a point-in-time copy of everything the profiler tracks.
type Snapshot struct {
	Uptime     time.Duration      `json:"uptime"`
	Goroutines int                `json:"goroutines"`
	Stages     map[string]Stats   `json:"stages"`
	Metrics    map[string]Stats   `json:"metrics"`
	Gauges     map[string]float64 `json:"gauges"`
}

// New creates a profiler. Call Start to enable periodic reports.
func New(opts Options) *Profiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 5 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 300
	}
	return &Profiler{
		reportInterval: opts.ReportInterval,
		window:         opts.Window,
		startTime:      time.Now(),
		stages:         make(map[string]*series),
		metrics:        make(map[string]*series),
	}
}

// Start launches the reporting goroutine. It stops when ctx is done or Stop
// is called.
func (p *Profiler) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil || p.reportInterval < 0 {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.startTime = time.Now()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Report()
			}
		}
	}()
}

// Stop ends periodic reporting and waits for the reporter to exit.
func (p *Profiler) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
}

// AddMetricsCollector registers a gauge source.
func (p *Profiler) AddMetricsCollector(c MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collectors = append(p.collectors, c)
}

// RecordMetric adds one value to the named metric.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series(p.metrics, name).add(value)
}

// StartOperation begins timing a stage.
//
// Arguments:
//   - name: The stage to time.
//
// Returns:
//   - func(): Call when the stage completes.
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration adds one timing to the named stage.
func (p *Profiler) RecordDuration(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series(p.stages, name).add(float64(d) / float64(time.Millisecond))
}

func (p *Profiler) series(m map[string]*series, name string) *series {
	s, ok := m[name]
	if !ok {
		s = &series{values: make([]float64, p.window)}
		m[name] = s
	}
	return s
}

// Snapshot copies the current statistics.
func (p *Profiler) Snapshot() Snapshot {
	p.mu.RLock()
	collectors := append([]MetricsCollector(nil), p.collectors...)
	snap := Snapshot{
		Uptime:     time.Since(p.startTime),
		Goroutines: runtime.NumGoroutine(),
		Stages:     make(map[string]Stats, len(p.stages)),
		Metrics:    make(map[string]Stats, len(p.metrics)),
		Gauges:     make(map[string]float64),
	}
	for name, s := range p.stages {
		snap.Stages[name] = s.stats()
	}
	for name, s := range p.metrics {
		snap.Metrics[name] = s.stats()
	}
	p.mu.RUnlock()

	for _, c := range collectors {
		for name, v := range c.CollectMetrics() {
			snap.Gauges[name] = v
		}
	}
	return snap
}

// Report logs the current statistics at info level, one record per series.
func (p *Profiler) Report() {
	snap := p.Snapshot()
	log := monitoring.L()

	log.Info("profiler report",
		"uptime", snap.Uptime.Truncate(time.Millisecond),
		"goroutines", snap.Goroutines,
	)
	for _, name := range sortedKeys(snap.Stages) {
		st := snap.Stages[name]
		log.Info("stage timing", "stage", name,
			"avg_ms", st.Avg, "min_ms", st.Min, "max_ms", st.Max, "samples", st.Samples, "count", st.Count)
	}
	for _, name := range sortedKeys(snap.Metrics) {
		st := snap.Metrics[name]
		log.Info("metric", "name", name,
			"avg", st.Avg, "min", st.Min, "max", st.Max, "last", st.Last, "samples", st.Samples)
	}
	for name, v := range snap.Gauges {
		log.Info("gauge", "name", name, "value", v)
	}
}

func sortedKeys(m map[string]Stats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
