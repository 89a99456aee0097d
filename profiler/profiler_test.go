package profiler

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-lanekeeper/monitoring"
)

type gauges map[string]float64

func (g gauges) CollectMetrics() map[string]float64 { return g }

func TestRecordMetricWindow(t *testing.T) {
	p := New(Options{Window: 3})
	for _, v := range []float64{10, 1, 2, 3} {
		p.RecordMetric("angle", v)
	}

	st := p.Snapshot().Metrics["angle"]
	assert.Equal(t, int64(4), st.Count)
	assert.Equal(t, 3, st.Samples)
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 3.0, st.Max)
	assert.Equal(t, 2.0, st.Avg)
	assert.Equal(t, 3.0, st.Last)
}

func TestStartOperation(t *testing.T) {
	p := New(Options{})
	done := p.StartOperation(StageCycle)
	time.Sleep(2 * time.Millisecond)
	done()
	p.RecordDuration(StageCycle, 4*time.Millisecond)

	st, ok := p.Snapshot().Stages[StageCycle]
	require.True(t, ok)
	assert.Equal(t, 2, st.Samples)
	assert.GreaterOrEqual(t, st.Min, 2.0)
	assert.Equal(t, 4.0, st.Last)
}

func TestSnapshotCollectors(t *testing.T) {
	p := New(Options{})
	p.AddMetricsCollector(gauges{"od4_sent": 12})

	snap := p.Snapshot()
	assert.Equal(t, 12.0, snap.Gauges["od4_sent"])
	assert.Empty(t, snap.Stages)
}

func TestReportLogs(t *testing.T) {
	var buf bytes.Buffer
	prev := monitoring.L()
	monitoring.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	defer monitoring.SetLogger(prev)

	p := New(Options{})
	p.RecordDuration(StageSegment, time.Millisecond)
	p.RecordMetric("angle", 0.1)
	p.Report()

	out := buf.String()
	assert.Contains(t, out, "profiler report")
	assert.Contains(t, out, "stage=segment")
	assert.Contains(t, out, "name=angle")
}

func TestStartStop(t *testing.T) {
	p := New(Options{ReportInterval: time.Millisecond})
	p.Start(context.Background())
	p.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	p.Stop()
	p.Stop()

	disabled := New(Options{ReportInterval: -1})
	disabled.Start(context.Background())
	disabled.Stop()
}
