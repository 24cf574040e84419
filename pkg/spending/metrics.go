package spending

import "github.com/prometheus/client_golang/prometheus"

// controllerMetrics exposes the controller's set sizes as prometheus
// gauges/counters, updated under the same critical section as the state
// they describe so a scrape never observes a torn update.
type controllerMetrics struct {
	inUse          prometheus.Gauge
	returned       prometheus.Gauge
	issuedTotal    prometheus.Counter
	spentTotal     prometheus.Counter
	invalidTotal   prometheus.Counter
	returnedTotal  prometheus.Counter
}

func newControllerMetrics(reg prometheus.Registerer) *controllerMetrics {
	m := &controllerMetrics{
		inUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zkap_passes_in_use",
			Help: "Number of passes currently checked out and not yet resolved.",
		}),
		returned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zkap_passes_returned",
			Help: "Number of unblinded tokens sitting in the returned queue awaiting reuse.",
		}),
		issuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkap_passes_issued_total",
			Help: "Total number of passes ever minted by the spending controller.",
		}),
		spentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkap_passes_spent_total",
			Help: "Total number of passes marked spent.",
		}),
		invalidTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkap_passes_invalid_total",
			Help: "Total number of passes marked invalid.",
		}),
		returnedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkap_passes_reset_total",
			Help: "Total number of passes reset back into the returned queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.inUse, m.returned, m.issuedTotal, m.spentTotal, m.invalidTotal, m.returnedTotal)
	}
	return m
}

func (m *controllerMetrics) observeIssued(count, inUse, returned int) {
	m.issuedTotal.Add(float64(count))
	m.inUse.Set(float64(inUse))
	m.returned.Set(float64(returned))
}

func (m *controllerMetrics) observeSpent(count, inUse int) {
	m.spentTotal.Add(float64(count))
	m.inUse.Set(float64(inUse))
}

func (m *controllerMetrics) observeInvalid(count, inUse int) {
	m.invalidTotal.Add(float64(count))
	m.inUse.Set(float64(inUse))
}

func (m *controllerMetrics) observeReturned(count, inUse, returned int) {
	m.returnedTotal.Add(float64(count))
	m.inUse.Set(float64(inUse))
	m.returned.Set(float64(returned))
}
