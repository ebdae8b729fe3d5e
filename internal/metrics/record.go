package metrics

import "time"

// The helpers below tolerate a nil receiver so components can run without metrics.

func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	m.RequestDur.Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMissed() {
	if m != nil {
		m.CacheMiss.Inc()
	}
}

func (m *Metrics) Retry() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) GaveUp() {
	if m != nil {
		m.Exhausted.Inc()
	}
}

func (m *Metrics) ItemSucceeded() {
	if m != nil {
		m.ItemsSucceeded.Inc()
	}
}

func (m *Metrics) ItemFailed() {
	if m != nil {
		m.ItemsFailed.Inc()
	}
}

func (m *Metrics) SubResourceMissing(resource string) {
	if m != nil {
		m.SubResourceGap.WithLabelValues(resource).Inc()
	}
}

func (m *Metrics) BatchFlushed() {
	if m != nil {
		m.BatchesFlushed.Inc()
	}
}

func (m *Metrics) RunFinished(attempted, succeeded, failed int) {
	if m == nil {
		return
	}
	m.LastRunItems.WithLabelValues("attempted").Set(float64(attempted))
	m.LastRunItems.WithLabelValues("succeeded").Set(float64(succeeded))
	m.LastRunItems.WithLabelValues("failed").Set(float64(failed))
}
