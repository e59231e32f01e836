// Package metrics writes the results of a finished round in the Prometheus
// text exposition format, for node_exporter's textfile collector or any
// other scraper that reads files.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/perfgo/kboot/history"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FileName is the name of the summary inside an archive directory
const FileName = "summary.prom"

// Registry holds the round metrics.
type Registry struct {
	reg *prometheus.Registry

	Tests         *prometheus.GaugeVec
	GroupDuration *prometheus.GaugeVec
	GroupCycles   *prometheus.GaugeVec
	RoundGroups   prometheus.Gauge
	RoundFinished prometheus.Gauge
}

// NewRegistry returns a registry with all round metrics registered on a
// private prometheus registry.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	factory := promauto.With(r.reg)

	r.Tests = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kboot_tests",
		Help: "Number of test cases per group and outcome",
	}, []string{"group_index", "group", "outcome"})

	r.GroupDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kboot_group_duration_milliseconds",
		Help: "Wall time of the VM run of each test group",
	}, []string{"group_index", "group"})

	r.GroupCycles = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kboot_group_cycles",
		Help: "Sum of the cycle counts reported by the test cases of each group",
	}, []string{"group_index", "group"})

	r.RoundGroups = factory.NewGauge(prometheus.GaugeOpts{
		Name: "kboot_round_groups",
		Help: "Number of test group reports in the round",
	})

	r.RoundFinished = factory.NewGauge(prometheus.GaugeOpts{
		Name: "kboot_round_finished_timestamp_seconds",
		Help: "Unix time the round was archived",
	})

	return r
}

// Observe records the reports of a round archived at finishedMS. Series are
// keyed by group index, group names reported by the guest need not be unique.
func (r *Registry) Observe(groups []history.Group, finishedMS int64) {
	for _, hg := range groups {
		g := hg.Report
		if g == nil {
			continue
		}
		index := strconv.Itoa(hg.Index)

		r.Tests.WithLabelValues(index, g.Name, "passed").Set(float64(g.Summary.Passed))
		r.Tests.WithLabelValues(index, g.Name, "failed").Set(float64(g.Summary.Failed))
		r.Tests.WithLabelValues(index, g.Name, "ignored").Set(float64(g.Summary.Ignored))
		r.Tests.WithLabelValues(index, g.Name, "total").Set(float64(g.Summary.Total))
		r.GroupDuration.WithLabelValues(index, g.Name).Set(float64(g.Summary.DurationMS))

		var cycles uint64
		for _, m := range g.Modules {
			for _, tc := range m.Tests {
				cycles += tc.CycleCount
			}
		}
		r.GroupCycles.WithLabelValues(index, g.Name).Set(float64(cycles))
		r.RoundGroups.Inc()
	}

	r.RoundFinished.Set(float64(finishedMS) / 1000)
}

// WriteFile writes the gathered metrics to path.
func (r *Registry) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// WriteRound records groups and writes them to path in one step.
func WriteRound(path string, groups []history.Group, finishedMS int64) error {
	r := NewRegistry()
	r.Observe(groups, finishedMS)
	return r.WriteFile(path)
}
