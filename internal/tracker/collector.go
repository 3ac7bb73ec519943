package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "nettrace"

// Collector exposes a ledger's channel counts as Prometheus gauges. Values
// are read from the ledger on every scrape.
type Collector struct {
	ledger *Ledger

	connections *prometheus.Desc
	limitMin    *prometheus.Desc
	limitMax    *prometheus.Desc
	within      *prometheus.Desc
}

// NewCollector creates a Collector for ledger. labels are attached to every
// series, typically the connection tag.
func NewCollector(ledger *Ledger, labels prometheus.Labels) *Collector {
	variable := []string{"channel"}
	return &Collector{
		ledger: ledger,
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "channel", "connections"),
			"Distinct connections counted for the channel.",
			variable, labels,
		),
		limitMin: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "channel", "limit_min"),
			"Declared minimum number of connections.",
			variable, labels,
		),
		limitMax: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "channel", "limit_max"),
			"Declared maximum number of connections.",
			variable, labels,
		),
		within: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "channel", "within_limits"),
			"1 when the channel count is within its limits.",
			variable, labels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.limitMin
	ch <- c.limitMax
	ch <- c.within
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.ledger.Snapshot() {
		within := 0.0
		if s.Within() {
			within = 1
		}
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Count), s.Name)
		ch <- prometheus.MustNewConstMetric(c.limitMin, prometheus.GaugeValue, float64(s.Limits.Min), s.Name)
		ch <- prometheus.MustNewConstMetric(c.limitMax, prometheus.GaugeValue, float64(s.Limits.Max), s.Name)
		ch <- prometheus.MustNewConstMetric(c.within, prometheus.GaugeValue, within, s.Name)
	}
}
