// Package metrics exposes operator challenge activity as prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"code.kerpass.org/operchal/pkg/operauth"
)

const namespace = "operchal"

// NewRegistry returns a prometheus Registry holding the process & go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// Handler returns the http.Handler serving reg metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	})
}

// AuditCounter is an operauth.AuditSink counting AuditRecord by event & code.
// Records are forwarded to Next if it is not nil.
type AuditCounter struct {
	Next operauth.AuditSink

	events *prometheus.CounterVec
}

// NewAuditCounter returns an AuditCounter whose collector is registered in reg.
func NewAuditCounter(reg prometheus.Registerer, next operauth.AuditSink) (*AuditCounter, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "challenge",
		Name:      "events_total",
		Help:      "Total number of operator challenge events by event and reason code",
	}, []string{"event", "code"})

	err := reg.Register(events)
	if nil != err {
		return nil, wrapError(err, "failed registering challenge events counter")
	}

	return &AuditCounter{Next: next, events: events}, nil
}

// Audit implements operauth.AuditSink.
func (self *AuditCounter) Audit(ctx context.Context, rec operauth.AuditRecord) {
	self.events.WithLabelValues(string(rec.Event), rec.Code).Inc()
	if nil != self.Next {
		self.Next.Audit(ctx, rec)
	}
}

var _ operauth.AuditSink = &AuditCounter{}

// RegisterSessionGauge registers in reg a gauge reporting count().
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "sessions",
		Help:      "Number of connected sessions",
	}, func() float64 {
		return float64(count())
	})

	return wrapError(reg.Register(gauge), "failed registering sessions gauge") // nil if Register succeeds
}
