package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TaskStats is the read-only view into one collect.Task's live state the
// collector reads at scrape time, decoupling it from collect.Task exactly
// as the teacher's IngestStats decouples the collector from ingest.Pipeline.
type TaskStats interface {
	TaskID() string
	EventMapBuckets() int
	EventMapEntries() int
	WatchFailedCount() int
	LastScanDuration() time.Duration
	SubmissionsTotal() int64
}

// Collector implements prometheus.Collector, reading every live task's
// gauges at scrape time rather than mutating counters off the hot path.
type Collector struct {
	tasks func() []TaskStats

	eventMapBuckets     *prometheus.Desc
	eventMapEntries     *prometheus.Desc
	watchFailedPatterns *prometheus.Desc
	lastScanDuration    *prometheus.Desc
	submissionsTotal    *prometheus.Desc
}

// NewCollector creates a collector that reads tasks() at scrape time.
func NewCollector(tasks func() []TaskStats) *Collector {
	labels := []string{"task_id"}
	return &Collector{
		tasks: tasks,
		eventMapBuckets: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "eventmap", "buckets"),
			"Number of open event-map buckets for this task.",
			labels, nil,
		),
		eventMapEntries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "eventmap", "entries"),
			"Total profiles across all open event-map buckets for this task.",
			labels, nil,
		),
		watchFailedPatterns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watch", "failed_patterns"),
			"Number of origin patterns currently awaiting watch registration.",
			labels, nil,
		),
		lastScanDuration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "last_scan", "duration_seconds"),
			"Duration of the most recent periodic scan.",
			labels, nil,
		),
		submissionsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "submissions_total"),
			"Cumulative number of instances successfully submitted downstream.",
			labels, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventMapBuckets
	ch <- c.eventMapEntries
	ch <- c.watchFailedPatterns
	ch <- c.lastScanDuration
	ch <- c.submissionsTotal
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.tasks == nil {
		return
	}
	for _, t := range c.tasks() {
		id := t.TaskID()
		ch <- prometheus.MustNewConstMetric(c.eventMapBuckets, prometheus.GaugeValue, float64(t.EventMapBuckets()), id)
		ch <- prometheus.MustNewConstMetric(c.eventMapEntries, prometheus.GaugeValue, float64(t.EventMapEntries()), id)
		ch <- prometheus.MustNewConstMetric(c.watchFailedPatterns, prometheus.GaugeValue, float64(t.WatchFailedCount()), id)
		ch <- prometheus.MustNewConstMetric(c.lastScanDuration, prometheus.GaugeValue, t.LastScanDuration().Seconds(), id)
		ch <- prometheus.MustNewConstMetric(c.submissionsTotal, prometheus.CounterValue, float64(t.SubmissionsTotal()), id)
	}
}
