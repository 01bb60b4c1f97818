package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

// RecordSource is the part of the record store the collector reads.
type RecordSource interface {
	List() []*relay.Record
}

type recordCollector struct {
	source  RecordSource
	records *prometheus.Desc
	leases  *prometheus.Desc
}

// RegisterRecords exports record counts computed from source at scrape time.
func (m *Metrics) RegisterRecords(source RecordSource) {
	if m == nil {
		return
	}
	m.Registry.MustRegister(&recordCollector{
		source: source,
		records: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "records"),
			"Relay records by connectivity.",
			[]string{"connectivity"}, nil,
		),
		leases: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "leases"),
			"Leases held in relay records by kind.",
			[]string{"kind"}, nil,
		),
	})
}

func (c *recordCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.leases
}

func (c *recordCollector) Collect(ch chan<- prometheus.Metric) {
	var direct, indirect, v4, v6, pd float64
	for _, rec := range c.source.List() {
		if rec.DirectlyConnected {
			direct++
		} else {
			indirect++
		}
		if rec.IP4.IsValid() {
			v4++
		}
		if rec.IP6.IsValid() {
			v6++
		}
		if rec.PDPrefix.IsValid() {
			pd++
		}
	}

	ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, direct, "direct")
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, indirect, "indirect")
	ch <- prometheus.MustNewConstMetric(c.leases, prometheus.GaugeValue, v4, "ipv4")
	ch <- prometheus.MustNewConstMetric(c.leases, prometheus.GaugeValue, v6, "ipv6")
	ch <- prometheus.MustNewConstMetric(c.leases, prometheus.GaugeValue, pd, "prefix")
}
