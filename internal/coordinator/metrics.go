package coordinator

import (
	"github.com/muurk/acond/internal/registers"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes the coordinator state and the served snapshot.
// Collect never talks to the controller.
type MetricsCollector struct {
	coord *Coordinator

	success      prometheus.Gauge
	lastSuccess  prometheus.Gauge
	failures     prometheus.Gauge
	lastDuration prometheus.Gauge
	status       *prometheus.GaugeVec
	refreshes    *prometheus.Desc
	registerVal  *prometheus.GaugeVec
}

// NewMetricsCollector creates a collector for coord
func NewMetricsCollector(coord *Coordinator) *MetricsCollector {
	return &MetricsCollector{
		coord: coord,
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acond_scrape_success",
			Help: "Whether a snapshot is being served (1=ok or stale, 0=unavailable)",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acond_last_success_timestamp_seconds",
			Help: "Unix time of the last successful refresh",
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acond_consecutive_failures",
			Help: "Failed refreshes since the last success",
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acond_refresh_duration_seconds",
			Help: "Duration of the last refresh including login",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acond_status",
			Help: "Coordinator status (1 for the current status)",
		}, []string{"status"}),
		refreshes: prometheus.NewDesc(
			"acond_refresh_total",
			"Refreshes since start by result",
			[]string{"result"}, nil,
		),
		registerVal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acond_register_value",
			Help: "Current value of a catalog register (flags as 0/1)",
		}, []string{"name", "unit"}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.success.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.failures.Describe(ch)
	c.lastDuration.Describe(ch)
	c.status.Describe(ch)
	ch <- c.refreshes
	c.registerVal.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	state := c.coord.State()

	if state.Serving() {
		c.success.Set(1)
	} else {
		c.success.Set(0)
	}
	if !state.LastSuccess.IsZero() {
		c.lastSuccess.Set(float64(state.LastSuccess.Unix()))
	}
	c.failures.Set(float64(state.ConsecutiveFailures))
	c.lastDuration.Set(state.LastDuration.Seconds())

	c.status.Reset()
	for _, s := range []Status{StatusOK, StatusStale, StatusUnavailable, StatusAuthFailed} {
		v := 0.0
		if s == state.Status {
			v = 1
		}
		c.status.WithLabelValues(string(s)).Set(v)
	}

	c.registerVal.Reset()
	if snap, ok := c.coord.Current(); ok {
		for _, reg := range registers.All() {
			v, err := snap.Register(reg)
			if err != nil {
				// absent or malformed: that register only
				continue
			}
			if f, ok := v.Float(); ok {
				c.registerVal.WithLabelValues(reg.Name, reg.Unit).Set(f)
			}
		}
	}

	c.success.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.failures.Collect(ch)
	c.lastDuration.Collect(ch)
	c.status.Collect(ch)
	ch <- prometheus.MustNewConstMetric(c.refreshes, prometheus.CounterValue, float64(state.RefreshOK), "ok")
	ch <- prometheus.MustNewConstMetric(c.refreshes, prometheus.CounterValue, float64(state.RefreshFailed), "error")
	c.registerVal.Collect(ch)
}
