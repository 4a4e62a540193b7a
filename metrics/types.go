package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter and Gauge keep a local copy of their value next to the
// Prometheus collector so a snapshot can be shown on the index page.

var (
	snapshotLock sync.Mutex
	snapshots    = map[string]func() float64{}
)

func addSnapshot(name string, get func() float64) {
	snapshotLock.Lock()
	defer snapshotLock.Unlock()
	snapshots[name] = get
}

type snapshotValue struct {
	Name  string
	Value float64
}

func snapshot() []snapshotValue {
	snapshotLock.Lock()
	defer snapshotLock.Unlock()

	values := make([]snapshotValue, 0, len(snapshots))
	for name, get := range snapshots {
		values = append(values, snapshotValue{Name: name, Value: get()})
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Name < values[j].Name })
	return values
}

// Counter is a registered Prometheus counter whose value can be read back.
type Counter struct {
	v atomic.Uint64
	c prometheus.Counter
}

// Inc increments the counter.
func (c *Counter) Inc() {
	c.v.Add(1)
	c.c.Inc()
}

// Get returns the number of increments.
func (c *Counter) Get() uint64 {
	return c.v.Load()
}

// NewCounter creates and registers a counter in the holepunch namespace.
func NewCounter(subsystem, name, help string) *Counter {
	c := &Counter{
		c: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}),
	}

	prometheus.MustRegister(c.c)
	addSnapshot(prometheus.BuildFQName(Namespace, subsystem, name), func() float64 {
		return float64(c.Get())
	})
	return c
}

// Gauge is a registered Prometheus gauge whose value can be read back.
type Gauge struct {
	bits atomic.Uint64
	g    prometheus.Gauge
}

func (g *Gauge) add(delta float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Inc increments the gauge by one.
func (g *Gauge) Inc() {
	g.add(1)
	g.g.Inc()
}

// Dec decrements the gauge by one.
func (g *Gauge) Dec() {
	g.add(-1)
	g.g.Dec()
}

// Set sets the gauge to v.
func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
	g.g.Set(v)
}

// Get returns the current value.
func (g *Gauge) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

// NewGauge creates and registers a gauge in the holepunch namespace.
func NewGauge(subsystem, name, help string) *Gauge {
	g := &Gauge{
		g: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}),
	}

	prometheus.MustRegister(g.g)
	addSnapshot(prometheus.BuildFQName(Namespace, subsystem, name), g.Get)
	return g
}
