// Package promexport exposes a Controller's command metrics to
// Prometheus. The teacher registers its counters globally at startup
// with promauto; a radiod Controller is instead a value an application
// constructs per radiod instance, so this package wraps it in a
// prometheus.Collector computing metrics from Controller.GetMetrics()
// on every scrape rather than mutating package-level promauto gauges.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cwsl/radiodctl/pkg/radiod"
)

var (
	commandsSentDesc = prometheus.NewDesc(
		"radiodctl_commands_sent_total",
		"Total command datagrams radiod accepted for dispatch.",
		nil, nil,
	)
	commandsSucceededDesc = prometheus.NewDesc(
		"radiodctl_commands_succeeded_total",
		"Commands that completed without error.",
		nil, nil,
	)
	commandsFailedDesc = prometheus.NewDesc(
		"radiodctl_commands_failed_total",
		"Commands that failed, by error kind.",
		[]string{"kind"}, nil,
	)
	statusPacketsReceivedDesc = prometheus.NewDesc(
		"radiodctl_status_packets_received_total",
		"STATUS packets observed on the multicast group.",
		nil, nil,
	)
	successRateDesc = prometheus.NewDesc(
		"radiodctl_command_success_rate",
		"commands_succeeded / commands_sent, 0 when no commands have been sent.",
		nil, nil,
	)
)

// Collector adapts a radiod.Controller's metrics to prometheus.Collector.
// A single Collector wraps exactly one Controller; register one per
// radiod instance an application controls.
type Collector struct {
	ctrl *radiod.Controller
}

// NewCollector returns a Collector for ctrl. Register it with a
// prometheus.Registerer the same way the teacher wires its own
// promauto-backed collectors into the default registry.
func NewCollector(ctrl *radiod.Controller) *Collector {
	return &Collector{ctrl: ctrl}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- commandsSentDesc
	descs <- commandsSucceededDesc
	descs <- commandsFailedDesc
	descs <- statusPacketsReceivedDesc
	descs <- successRateDesc
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	snap := c.ctrl.GetMetrics()

	metrics <- prometheus.MustNewConstMetric(commandsSentDesc, prometheus.CounterValue, float64(snap.CommandsSent))
	metrics <- prometheus.MustNewConstMetric(commandsSucceededDesc, prometheus.CounterValue, float64(snap.CommandsSucceeded))
	metrics <- prometheus.MustNewConstMetric(statusPacketsReceivedDesc, prometheus.CounterValue, float64(snap.StatusPacketsReceived))
	metrics <- prometheus.MustNewConstMetric(successRateDesc, prometheus.GaugeValue, snap.SuccessRate)

	for kind, count := range snap.ErrorsByKind {
		metrics <- prometheus.MustNewConstMetric(commandsFailedDesc, prometheus.CounterValue, float64(count), kind.String())
	}
}
