// Package telemetry caches the latest range readings received from the vehicle.
package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Sensor identifies a distance sensor by the sender stamp of its readings.
type Sensor uint32

const (
	Front Sensor = 0
	Left  Sensor = 1
	Rear  Sensor = 2
	Right Sensor = 3
)

func (s Sensor) String() string {
	switch s {
	case Front:
		return "front"
	case Left:
		return "left"
	case Rear:
		return "rear"
	case Right:
		return "right"
	}
	return fmt.Sprintf("sensor-%d", uint32(s))
}

// Reading is one distance measurement in meters.
type Reading struct {
	Sensor   Sensor    `json:"-"`
	Distance float32   `json:"distance"`
	Sampled  time.Time `json:"sampled"`
}

// Distances is an immutable set of the latest reading per sensor.
type Distances map[Sensor]Reading

// Get returns the reading of one sensor.
func (d Distances) Get(s Sensor) (Reading, bool) {
	r, ok := d[s]
	return r, ok
}

// DistanceCache keeps the latest reading of each sensor. Readers get a
// consistent snapshot without locking; each update swaps in a new map.
type DistanceCache struct {
	current atomic.Pointer[Distances]
	updates atomic.Uint64
}

// NewDistanceCache returns an empty cache.
func NewDistanceCache() *DistanceCache {
	c := &DistanceCache{}
	empty := Distances{}
	c.current.Store(&empty)
	return c
}

// Update records a reading. Readings older than the cached one for the same
// sensor are dropped.
func (c *DistanceCache) Update(r Reading) bool {
	for {
		old := c.current.Load()
		if prev, ok := (*old)[r.Sensor]; ok && r.Sampled.Before(prev.Sampled) {
			return false
		}

		next := make(Distances, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[r.Sensor] = r

		if c.current.CompareAndSwap(old, &next) {
			c.updates.Add(1)
			return true
		}
	}
}

// Snapshot returns the current readings. The map must not be modified.
func (c *DistanceCache) Snapshot() Distances {
	return *c.current.Load()
}

// Updates is the number of accepted readings.
func (c *DistanceCache) Updates() uint64 {
	return c.updates.Load()
}
