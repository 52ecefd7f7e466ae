package api

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/executor"
)

// scrapeTimeout bounds the store queries of one scrape.
const scrapeTimeout = 2 * time.Second

// shellCollector implements prometheus.Collector, reading executor counters
// and store row counts on each scrape.
type shellCollector struct {
	srv *Server

	deltasTotal    *prometheus.Desc
	opsTotal       *prometheus.Desc
	failuresTotal  *prometheus.Desc
	rollbacksTotal *prometheus.Desc
	timeoutsTotal  *prometheus.Desc
	storeRows      *prometheus.Desc
	storeUp        *prometheus.Desc
	uptimeSeconds  *prometheus.Desc
}

func newCollector(srv *Server) *shellCollector {
	return &shellCollector{
		srv: srv,

		deltasTotal: prometheus.NewDesc(
			"routershell_executor_deltas_total",
			"Total configuration deltas executed.",
			nil, nil,
		),
		opsTotal: prometheus.NewDesc(
			"routershell_executor_operations_total",
			"Total primitive operations applied.",
			[]string{"kind"}, nil,
		),
		failuresTotal: prometheus.NewDesc(
			"routershell_executor_failures_total",
			"Total deltas that failed to apply.",
			nil, nil,
		),
		rollbacksTotal: prometheus.NewDesc(
			"routershell_executor_rollbacks_total",
			"Total rollbacks by outcome.",
			[]string{"outcome"}, nil,
		),
		timeoutsTotal: prometheus.NewDesc(
			"routershell_executor_timeouts_total",
			"Total operations that hit the executor timeout.",
			nil, nil,
		),
		storeRows: prometheus.NewDesc(
			"routershell_store_rows",
			"Rows per table in the configuration store.",
			[]string{"table"}, nil,
		),
		storeUp: prometheus.NewDesc(
			"routershell_store_up",
			"Whether the last store read succeeded.",
			nil, nil,
		),
		uptimeSeconds: prometheus.NewDesc(
			"routershell_uptime_seconds",
			"Seconds since the shell started.",
			nil, nil,
		),
	}
}

func (c *shellCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.deltasTotal
	ch <- c.opsTotal
	ch <- c.failuresTotal
	ch <- c.rollbacksTotal
	ch <- c.timeoutsTotal
	ch <- c.storeRows
	ch <- c.storeUp
	ch <- c.uptimeSeconds
}

func (c *shellCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue,
		time.Since(c.srv.startTime).Seconds())
	if c.srv.exec != nil {
		c.collectExecutor(ch, c.srv.exec.Stats())
	}
	if c.srv.store != nil {
		c.collectStore(ch)
	}
}

func (c *shellCollector) collectExecutor(ch chan<- prometheus.Metric, st executor.Stats) {
	ch <- prometheus.MustNewConstMetric(c.deltasTotal, prometheus.CounterValue, float64(st.Deltas))
	ch <- prometheus.MustNewConstMetric(c.failuresTotal, prometheus.CounterValue, float64(st.Failures))
	ch <- prometheus.MustNewConstMetric(c.timeoutsTotal, prometheus.CounterValue, float64(st.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.rollbacksTotal, prometheus.CounterValue,
		float64(st.RolledBack), "rolled_back")
	ch <- prometheus.MustNewConstMetric(c.rollbacksTotal, prometheus.CounterValue,
		float64(st.RollbackFailed), "rollback_failed")

	// every kind is exported so rate() sees a zero before the first op
	for _, k := range delta.Kinds() {
		ch <- prometheus.MustNewConstMetric(c.opsTotal, prometheus.CounterValue,
			float64(st.ByKind[k]), k.String())
	}
}

func (c *shellCollector) collectStore(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()
	counts, err := c.srv.store.Counts(ctx)
	if err != nil {
		c.srv.log.Warn("store scrape failed", "err", err)
		ch <- prometheus.MustNewConstMetric(c.storeUp, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.storeUp, prometheus.GaugeValue, 1)

	tables := make([]string, 0, len(counts))
	for t := range counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		ch <- prometheus.MustNewConstMetric(c.storeRows, prometheus.GaugeValue,
			float64(counts[t]), t)
	}
}
