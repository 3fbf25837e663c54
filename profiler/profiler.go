// Package profiler - Operation timing and custom metric statistics for the
// command-line tools.
package profiler

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeTracker tracks timing statistics of one operation over a sliding window.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// MetricTracker tracks statistics of one custom metric over a sliding window.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

// OperationStats is a snapshot of a TimeTracker.
type OperationStats struct {
	Name  string
	Count int64
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// MetricStats is a snapshot of a MetricTracker.
type MetricStats struct {
	Name  string
	Count int64
	Avg   float64
	Min   float64
	Max   float64
}

// Profiler collects operation timings and metrics. It is safe for
// concurrent use.
type Profiler struct {
	mu         sync.Mutex
	maxSamples int
	startTime  time.Time
	operations map[string]*TimeTracker
	metrics    map[string]*MetricTracker
}

// New creates a profiler keeping at most maxSamples values per series
// (600 when maxSamples <= 0).
func New(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = 600
	}
	return &Profiler{
		maxSamples: maxSamples,
		startTime:  time.Now(),
		operations: make(map[string]*TimeTracker),
		metrics:    make(map[string]*MetricTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call when the operation completes.
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration records the completion time of an operation.
func (p *Profiler) RecordDuration(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operations[name]
	if !exists {
		tracker = &TimeTracker{minTime: d, maxTime: d}
		p.operations[name] = tracker
	}

	tracker.durations = append(tracker.durations, d)
	tracker.totalTime += d
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++
	tracker.minTime = min(tracker.minTime, d)
	tracker.maxTime = max(tracker.maxTime, d)
}

// RecordMetric records a custom metric value.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.metrics[name]
	if !exists {
		tracker = &MetricTracker{min: value, max: value}
		p.metrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > p.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}
	tracker.count++
	tracker.min = min(tracker.min, value)
	tracker.max = max(tracker.max, value)
}

// Operations returns a snapshot of every operation, sorted by name. Avg is
// over the sliding window; Min, Max and Count are over the whole run.
func (p *Profiler) Operations() []OperationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OperationStats, 0, len(p.operations))
	for name, t := range p.operations {
		out = append(out, OperationStats{
			Name:  name,
			Count: t.count,
			Avg:   t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Metrics returns a snapshot of every metric, sorted by name.
func (p *Profiler) Metrics() []MetricStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]MetricStats, 0, len(p.metrics))
	for name, m := range p.metrics {
		out = append(out, MetricStats{
			Name:  name,
			Count: m.count,
			Avg:   m.sum / float64(len(m.values)),
			Min:   m.min,
			Max:   m.max,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Report logs one entry per operation and metric.
func (p *Profiler) Report(logger logrus.FieldLogger) {
	logger.WithField("uptime", time.Since(p.startTime).Truncate(time.Millisecond)).Info("profile")
	for _, op := range p.Operations() {
		logger.WithFields(logrus.Fields{
			"operation": op.Name,
			"count":     op.Count,
			"avg":       op.Avg.Truncate(time.Microsecond),
			"min":       op.Min.Truncate(time.Microsecond),
			"max":       op.Max.Truncate(time.Microsecond),
		}).Info("operation timing")
	}
	for _, m := range p.Metrics() {
		logger.WithFields(logrus.Fields{
			"metric": m.Name,
			"count":  m.Count,
			"avg":    m.Avg,
			"min":    m.Min,
			"max":    m.Max,
		}).Info("metric")
	}
}
