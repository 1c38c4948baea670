// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are keyward's application metrics. Its methods satisfy the
// observer interfaces of the handshake, crm and notify packages.
type Metrics struct {
	HandshakesTotal    *prometheus.CounterVec
	CRMSyncTotal       *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewMetrics creates and registers the application metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HandshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_handshakes_total",
			Help: "Handshake steps by step and outcome",
		}, []string{"step", "outcome"}),
		CRMSyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_crm_sync_total",
			Help: "CRM account syncs by result",
		}, []string{"result"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_notifications_total",
			Help: "Account emails by template and outcome",
		}, []string{"template", "outcome"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_http_requests_total",
			Help: "API requests by route pattern and status code",
		}, []string{"route", "status"}),
		reg: reg,
	}
	reg.MustRegister(m.HandshakesTotal, m.CRMSyncTotal, m.NotificationsTotal, m.HTTPRequestsTotal)
	return m
}

// WatchPendingHandshakes exports count as keyward_pending_handshakes.
func (m *Metrics) WatchPendingHandshakes(count func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "keyward_pending_handshakes",
		Help: "Handshakes started and not yet finished or swept",
	}, func() float64 { return float64(count()) }))
}

// ObserveHandshake records one handshake step.
func (m *Metrics) ObserveHandshake(step, outcome string) {
	m.HandshakesTotal.WithLabelValues(step, outcome).Inc()
}

// ObserveCRMSync records one account sync.
func (m *Metrics) ObserveCRMSync(result string) {
	m.CRMSyncTotal.WithLabelValues(result).Inc()
}

// ObserveNotification records one email delivery attempt.
func (m *Metrics) ObserveNotification(template, outcome string) {
	m.NotificationsTotal.WithLabelValues(template, outcome).Inc()
}

// ObserveHTTPRequest records one API response.
func (m *Metrics) ObserveHTTPRequest(route, status string) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
}
