package billing

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports billing counters to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	facts         *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	gatewayErrors *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	dedupeRemoved prometheus.Counter
}

// NewMetrics registers the billing collectors. Collectors that are already
// registered (e.g. a second service in the same process) are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{}
	var err error
	if m.facts, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "linkfox",
		Subsystem: "billing",
		Name:      "facts_total",
		Help:      "Gateway facts handed to the applier by kind and result.",
	}, "kind", "result"); err != nil {
		return nil, err
	}
	if m.webhooks, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "linkfox",
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Webhook deliveries by event type and handling result.",
	}, "type", "result"); err != nil {
		return nil, err
	}
	if m.gatewayErrors, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "linkfox",
		Subsystem: "billing",
		Name:      "gateway_errors_total",
		Help:      "Failed payment gateway calls by operation.",
	}, "operation"); err != nil {
		return nil, err
	}
	if m.cancellations, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "linkfox",
		Subsystem: "billing",
		Name:      "cancellations_total",
		Help:      "Subscription cancellations by result.",
	}, "result"); err != nil {
		return nil, err
	}

	removed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfox",
		Subsystem: "billing",
		Name:      "ledger_duplicates_removed_total",
		Help:      "Duplicate ledger rows deleted by the reconciler.",
	})
	if err := reg.Register(removed); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register billing metric: %w", err)
		}
		existing, ok := are.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("register billing metric: %w", err)
		}
		removed = existing
	}
	m.dedupeRemoved = removed
	return m, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register billing metric %s: %w", opts.Name, err)
	}
	return c, nil
}

func (m *Metrics) Fact(kind FactKind, result string) {
	if m == nil {
		return
	}
	m.facts.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) Webhook(eventType, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) GatewayError(operation string) {
	if m == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) Cancellation(result string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(result).Inc()
}

func (m *Metrics) DuplicatesRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dedupeRemoved.Add(float64(n))
}
