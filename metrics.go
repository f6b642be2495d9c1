package iedserver

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	controls    *prometheus.CounterVec
	deselects   *prometheus.CounterVec
	events      *prometheus.CounterVec
	writes      *prometheus.CounterVec
	connections prometheus.Gauge
	cacheSize   prometheus.GaugeFunc
}

// newServerMetrics builds the collectors and registers them on reg when it
// is non-nil. Collectors already registered by another server on the same
// registry are shared.
func newServerMetrics(namespace string, reg prometheus.Registerer, cacheSize func() float64) (*serverMetrics, error) {
	m := &serverMetrics{
		controls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "services_total",
			Help:      "Control services handled, by service and result.",
		}, []string{"service", "result"}),
		deselects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "deselects_total",
			Help:      "Control objects returned to idle from a select or an execution, by reason.",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Engine callbacks dispatched, by event class.",
		}, []string{"class"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "write_access",
			Name:      "decisions_total",
			Help:      "Client write decisions, by deciding source and outcome.",
		}, []string{"source", "outcome"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "open",
			Help:      "Client connections currently registered.",
		}),
		cacheSize: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "cached_nodes",
			Help:      "Model nodes materialized in the identity cache.",
		}, cacheSize),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.controls, err = register(reg, m.controls); err != nil {
		return nil, err
	}
	if m.deselects, err = register(reg, m.deselects); err != nil {
		return nil, err
	}
	if m.events, err = register(reg, m.events); err != nil {
		return nil, err
	}
	if m.writes, err = register(reg, m.writes); err != nil {
		return nil, err
	}
	if m.connections, err = register(reg, m.connections); err != nil {
		return nil, err
	}
	if m.cacheSize, err = register(reg, m.cacheSize); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *serverMetrics) observeControl(service ControlService, result ControlHandlerResult) {
	m.controls.WithLabelValues(service.String(), result.String()).Inc()
}

func (m *serverMetrics) observeDeselect(reason SelectStateChangedReason) {
	m.deselects.WithLabelValues(selectReasonNames[reason]).Inc()
}

func (m *serverMetrics) observeEvent(kind callbackKind) {
	m.events.WithLabelValues(kind.String()).Inc()
}

func (m *serverMetrics) observeWrite(source string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.writes.WithLabelValues(source, outcome).Inc()
}

func (m *serverMetrics) setConnections(n int) {
	m.connections.Set(float64(n))
}

var selectReasonNames = map[SelectStateChangedReason]string{
	SELECT_STATE_REASON_SELECTED:       "selected",
	SELECT_STATE_REASON_CANCELED:       "canceled",
	SELECT_STATE_REASON_TIMEOUT:        "timeout",
	SELECT_STATE_REASON_OPERATED:       "operated",
	SELECT_STATE_REASON_OPERATE_FAILED: "operate_failed",
	SELECT_STATE_REASON_DISCONNECTED:   "disconnected",
}
