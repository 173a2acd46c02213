// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package promsnmp exports Prometheus metrics for SNMP sessions and trap
// listeners.
package promsnmp

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nxpoll/snmp"
)

// Metrics holds the collectors. Label "target" is the name given to
// Instrument; "version" is the SNMP version of a notification.
type Metrics struct {
	DatagramsSent     *prometheus.CounterVec
	DatagramsReceived *prometheus.CounterVec
	Retries           *prometheus.CounterVec
	Timeouts          *prometheus.CounterVec
	Requests          *prometheus.CounterVec
	Failures          *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	TrapsReceived     *prometheus.CounterVec
}

// New creates the collectors under namespace; they still need Register.
func New(namespace string) *Metrics {
	return &Metrics{
		DatagramsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_sent_total",
			Help:      "SNMP datagrams sent, retries and resends included.",
		}, []string{"target"}),
		DatagramsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "SNMP datagrams received, stray ones included.",
		}, []string{"target"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Requests re-sent after a timeout.",
		}, []string{"target"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_total",
			Help:      "Requests that got no response after all retries.",
		}, []string{"target"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_completed_total",
			Help:      "Requests answered by the agent.",
		}, []string{"target"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Requests that failed with an error other than a timeout.",
		}, []string{"target"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from the first send of a request to its outcome.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"target"}),
		TrapsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traps_received_total",
			Help:      "Notifications accepted by the trap listener.",
		}, []string{"version", "type"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.DatagramsSent, m.DatagramsReceived, m.Retries, m.Timeouts,
		m.Requests, m.Failures, m.RequestDuration, m.TrapsReceived,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Instrument hooks the session's callbacks. Hooks already set on s keep
// running after the metric update.
func (m *Metrics) Instrument(s *snmp.Session, target string) {
	sent := m.DatagramsSent.WithLabelValues(target)
	received := m.DatagramsReceived.WithLabelValues(target)
	retries := m.Retries.WithLabelValues(target)
	timeouts := m.Timeouts.WithLabelValues(target)
	completed := m.Requests.WithLabelValues(target)
	failed := m.Failures.WithLabelValues(target)
	duration := m.RequestDuration.WithLabelValues(target)

	// A Session runs one request at a time, so one start time is enough.
	var start time.Time
	observe := func() {
		if !start.IsZero() {
			duration.Observe(time.Since(start).Seconds())
			start = time.Time{}
		}
	}

	s.OnSent = chain(s.OnSent, func(*snmp.Session) {
		if start.IsZero() {
			start = time.Now()
		}
		sent.Inc()
	})
	s.OnRecv = chain(s.OnRecv, func(*snmp.Session) { received.Inc() })
	s.OnRetry = chain(s.OnRetry, func(*snmp.Session) { retries.Inc() })
	s.OnFinish = chain(s.OnFinish, func(*snmp.Session) {
		completed.Inc()
		observe()
	})
	s.OnTimeout = chain(s.OnTimeout, func(*snmp.Session) {
		timeouts.Inc()
		observe()
	})
	s.OnError = chain(s.OnError, func(*snmp.Session) {
		failed.Inc()
		observe()
	})
}

func chain(prev, next func(*snmp.Session)) func(*snmp.Session) {
	if prev == nil {
		return next
	}
	return func(s *snmp.Session) {
		next(s)
		prev(s)
	}
}

// TrapHandler counts notifications before passing them to next.
func (m *Metrics) TrapHandler(next snmp.TrapHandlerFunc) snmp.TrapHandlerFunc {
	return func(p *snmp.PDU, addr net.Addr) {
		m.TrapsReceived.WithLabelValues(p.Version.String(), p.Type.String()).Inc()
		if next != nil {
			next(p, addr)
		}
	}
}

// Handler serves the metrics of reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
