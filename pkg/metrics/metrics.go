package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

const namespace = "dhcprelay"

// Drop reasons.
const (
	ReasonIgnoredVLAN      = "ignored_vlan"
	ReasonPoolSaturated    = "pool_saturated"
	ReasonMalformed        = "malformed"
	ReasonMissingConfig    = "missing_configuration"
	ReasonUnresolvedServer = "unresolved_server"
	ReasonUnresolvedIface  = "unresolved_interface"
	ReasonMissingRecord    = "missing_record"
	ReasonSerialize        = "serialize"
	ReasonEmit             = "emit"
	ReasonUnhandledType    = "unhandled_type"
	ReasonOther            = "other"
)

const (
	DirectionClientToServer  = "client_to_server"
	DirectionServerToClient  = "server_to_client"
	DirectionLeaseQuery      = "lease_query"
	DirectionLeaseQueryReply = "lease_query_reply"
)

// Metrics holds the relay's instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	received *prometheus.CounterVec
	relayed  *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	messages *prometheus.CounterVec
	inflight prometheus.Gauge
	expired  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames delivered to the relay by class.",
		}, []string{"class"}),
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Frames emitted by the relay.",
		}, []string{"family", "direction"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped by the relay by reason.",
		}, []string{"family", "reason"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "DHCP messages processed by type.",
		}, []string{"family", "type"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Packet workers currently processing a frame.",
		}),
		expired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_expired_total",
			Help:      "IPv6 addresses and prefixes cleared by the expiry sweep.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) Received(class string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(class).Inc()
}

func (m *Metrics) Relayed(family, direction string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(family, direction).Inc()
}

func (m *Metrics) Dropped(family, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(family, reason).Inc()
}

// DroppedErr counts a drop with the reason derived from err.
func (m *Metrics) DroppedErr(family string, err error) {
	m.Dropped(family, ReasonFor(err))
}

func (m *Metrics) Message(family, msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(family, msgType).Inc()
}

func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}

func (m *Metrics) Expired(kind string) {
	if m == nil {
		return
	}
	m.expired.WithLabelValues(kind).Inc()
}

// ReasonFor maps a relay error to its drop reason label.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, relay.ErrMalformedOption):
		return ReasonMalformed
	case errors.Is(err, relay.ErrMissingConfiguration):
		return ReasonMissingConfig
	case errors.Is(err, relay.ErrUnresolvedServer):
		return ReasonUnresolvedServer
	case errors.Is(err, relay.ErrUnresolvedInterface):
		return ReasonUnresolvedIface
	case errors.Is(err, relay.ErrMissingRecord):
		return ReasonMissingRecord
	default:
		return ReasonOther
	}
}

// RelayedCounter exposes one series of the relayed counter.
func (m *Metrics) RelayedCounter(family, direction string) prometheus.Counter {
	return m.relayed.WithLabelValues(family, direction)
}

func (m *Metrics) DroppedCounter(family, reason string) prometheus.Counter {
	return m.dropped.WithLabelValues(family, reason)
}

func (m *Metrics) ExpiredCounter(kind string) prometheus.Counter {
	return m.expired.WithLabelValues(kind)
}
