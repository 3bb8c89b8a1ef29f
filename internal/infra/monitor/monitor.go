// Package monitor collects lightweight runtime metrics for the bot.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

const (
	recentCapacity = 40
	slowThreshold  = 10 * time.Second
	topStats       = 8
)

// RollingMetric accumulates durations for one named task.
type RollingMetric struct {
	Count int
	Total time.Duration
	Max   time.Duration
	Last  time.Duration
}

func (m *RollingMetric) add(d time.Duration) {
	m.Count++
	m.Total += d
	m.Last = d
	if d > m.Max {
		m.Max = d
	}
}

// Average returns the mean duration, zero when nothing was recorded.
func (m *RollingMetric) Average() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.Total / time.Duration(m.Count)
}

// TaskRecord is one recorded task run.
type TaskRecord struct {
	Timestamp time.Time
	Name      string
	Elapsed   time.Duration
	Tags      map[string]any
}

// Event is a notable occurrence, currently only slow task runs.
type Event struct {
	Timestamp time.Time
	Name      string
	Elapsed   time.Duration
	Tags      map[string]any
}

// TaskStat is one row of the snapshot's task table.
type TaskStat struct {
	Name  string
	Count int
	Avg   time.Duration
	Max   time.Duration
	Last  time.Duration
}

// Snapshot is a point-in-time view of everything the monitor collected.
type Snapshot struct {
	Uptime     time.Duration
	UptimeText string
	Tasks      []TaskStat
	TaskRecent []TaskRecord
	Gauges     map[string]float64
	Events     []Event
}

// Monitor aggregates task timings, gauges and slow-task events. All methods
// are safe for concurrent use. It satisfies the queue package's Recorder.
type Monitor struct {
	mu         sync.Mutex
	startedAt  time.Time
	tasks      map[string]*RollingMetric
	taskRecent []TaskRecord
	events     []Event
	gauges     map[string]float64
}

// New creates an empty monitor.
func New() *Monitor {
	return &Monitor{
		startedAt: time.Now(),
		tasks:     make(map[string]*RollingMetric),
		gauges:    make(map[string]float64),
	}
}

// RecordTask records one task run and raises a slow event past the threshold.
func (m *Monitor) RecordTask(name string, elapsed time.Duration, tags map[string]any) {
	m.mu.Lock()
	metric, ok := m.tasks[name]
	if !ok {
		metric = &RollingMetric{}
		m.tasks[name] = metric
	}
	metric.add(elapsed)
	m.taskRecent = prepend(m.taskRecent, TaskRecord{
		Timestamp: time.Now(),
		Name:      name,
		Elapsed:   elapsed,
		Tags:      tags,
	})
	m.mu.Unlock()

	if elapsed > slowThreshold {
		m.recordEvent("task.slow", elapsed, withTag(tags, "task", name))
	}
}

// SetGauge stores a named gauge value.
func (m *Monitor) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// Gauge returns the gauge value or zero when unset.
func (m *Monitor) Gauge(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

func (m *Monitor) recordEvent(name string, elapsed time.Duration, tags map[string]any) {
	m.mu.Lock()
	m.events = prepend(m.events, Event{
		Timestamp: time.Now(),
		Name:      name,
		Elapsed:   elapsed,
		Tags:      tags,
	})
	m.mu.Unlock()

	zlog.Warn().Msgf("monitor event %s elapsed=%s tags=%v", name, elapsed, tags)
}

// Snapshot returns the current aggregate state. Task stats are sorted by
// average duration, slowest first, capped to the top rows.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make([]TaskStat, 0, len(m.tasks))
	for name, metric := range m.tasks {
		stats = append(stats, TaskStat{
			Name:  name,
			Count: metric.Count,
			Avg:   metric.Average(),
			Max:   metric.Max,
			Last:  metric.Last,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Avg != stats[j].Avg {
			return stats[i].Avg > stats[j].Avg
		}
		return stats[i].Name < stats[j].Name
	})
	if len(stats) > topStats {
		stats = stats[:topStats]
	}

	uptime := time.Since(m.startedAt)
	return Snapshot{
		Uptime:     uptime,
		UptimeText: formatUptime(uptime),
		Tasks:      stats,
		TaskRecent: append([]TaskRecord(nil), m.taskRecent...),
		Gauges:     copyGauges(m.gauges),
		Events:     append([]Event(nil), m.events...),
	}
}

// prepend pushes v onto the front of a bounded ring, newest first.
func prepend[T any](ring []T, v T) []T {
	ring = append([]T{v}, ring...)
	if len(ring) > recentCapacity {
		ring = ring[:recentCapacity]
	}
	return ring
}

func withTag(tags map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	out[key] = value
	return out
}

func copyGauges(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatUptime(d time.Duration) string {
	total := int(d.Seconds())
	minutes, sec := total/60, total%60
	hours, minutes := minutes/60, minutes%60
	days, hours := hours/24, hours%24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, sec)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
