package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatsCollector exports pgxpool statistics for the credential store pool.
type PoolStatsCollector struct {
	pool *pgxpool.Pool

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	acquires *prometheus.Desc
	waited   *prometheus.Desc
}

// NewPoolStatsCollector creates a collector labelled with store.
func NewPoolStatsCollector(pool *pgxpool.Pool, store string) *PoolStatsCollector {
	constLabels := prometheus.Labels{"store": store}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("estatedesk_db_pool_"+name, help, nil, constLabels)
	}
	return &PoolStatsCollector{
		pool:     pool,
		acquired: desc("acquired_connections", "Connections currently checked out"),
		idle:     desc("idle_connections", "Idle connections in the pool"),
		total:    desc("total_connections", "Open connections in the pool"),
		acquires: desc("acquires_total", "Connection acquires since start"),
		waited:   desc("empty_acquires_total", "Acquires that had to wait for a free connection"),
	}
}

func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.acquires
	ch <- c.waited
}

func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.waited, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
}
