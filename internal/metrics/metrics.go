// Package metrics counts store writes and ledger events with prometheus
// collectors on a private registry.
package metrics

import (
	"errors"
	"io"
	"time"

	"github.com/William-King977/TaweLib/library"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Recorder implements library.Observer.
type Recorder struct {
	reg          *prometheus.Registry
	writes       *prometheus.CounterVec
	writeSeconds *prometheus.HistogramVec
	ledger       *prometheus.CounterVec
	ledgerPence  *prometheus.CounterVec
}

var _ library.Observer = (*Recorder)(nil)

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tawelib",
			Name:      "store_writes_total",
			Help:      "Store writes by class, operation and result.",
		}, []string{"class", "op", "result"}),
		writeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tawelib",
			Name:      "store_write_seconds",
			Help:      "Time spent in store writes.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"class"}),
		ledger: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tawelib",
			Name:      "ledger_events_total",
			Help:      "Fines and payments applied.",
		}, []string{"kind"}),
		ledgerPence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tawelib",
			Name:      "ledger_pence_total",
			Help:      "Sum of fines and payments in pence.",
		}, []string{"kind"}),
	}
	r.reg.MustRegister(r.writes, r.writeSeconds, r.ledger, r.ledgerPence)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) StoreWrite(class library.Class, op string, err error, elapsed time.Duration) {
	r.writes.WithLabelValues(class.String(), op, result(err)).Inc()
	r.writeSeconds.WithLabelValues(class.String()).Observe(elapsed.Seconds())
}

func (r *Recorder) LedgerEvent(kind string, amount library.Money) {
	r.ledger.WithLabelValues(kind).Inc()
	r.ledgerPence.WithLabelValues(kind).Add(float64(amount))
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, library.ErrStaleWrite):
		return "stale"
	case errors.Is(err, library.ErrStoreCorruption):
		return "corrupt"
	default:
		return "error"
	}
}

// WriteText dumps every collected family in the prometheus text format.
func (r *Recorder) WriteText(w io.Writer) error {
	families, err := r.reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
