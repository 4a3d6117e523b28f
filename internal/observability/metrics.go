// Package observability holds the prometheus instruments for the engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

type Metrics struct {
	DocumentsSaved   *prometheus.CounterVec
	DocumentsSent    *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	PaymentsRecorded prometheus.Counter
	PaymentsRefunded prometheus.Counter
	LedgerWarnings   prometheus.Counter
}

var Module = fx.Module("observability",
	fx.Provide(NewMetrics),
)

func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		DocumentsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicepad_documents_saved_total",
			Help: "Draft saves that reached the store, by document kind.",
		}, []string{"kind"}),
		DocumentsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicepad_documents_sent_total",
			Help: "Documents accepted by a notification transport, by channel.",
		}, []string{"channel"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicepad_send_failures_total",
			Help: "Delivery attempts rejected by the transport, by channel.",
		}, []string{"channel"}),
		PaymentsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicepad_payments_recorded_total",
			Help: "Payments appended to the ledger.",
		}),
		PaymentsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicepad_payments_refunded_total",
			Help: "Payments flipped to refunded.",
		}),
		LedgerWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicepad_ledger_warnings_total",
			Help: "Ledger mutations that committed but whose confirmation failed.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.DocumentsSaved,
		m.DocumentsSent,
		m.SendFailures,
		m.PaymentsRecorded,
		m.PaymentsRefunded,
		m.LedgerWarnings,
	} {
		if err := prometheus.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
