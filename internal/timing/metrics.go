package timing

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts engine activity. A nil *Metrics records nothing.
type Metrics struct {
	events     *prometheus.CounterVec
	finishes   prometheus.Counter
	recomputes prometheus.Counter
	corrected  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simple5k",
			Name:      "timing_events_total",
			Help:      "Timing events processed, by outcome or error kind.",
		}, []string{"result"}),
		finishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simple5k",
			Name:      "runner_finishes_total",
			Help:      "Runners that completed their final lap.",
		}),
		recomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simple5k",
			Name:      "recomputes_total",
			Help:      "Full placement recomputations run.",
		}),
		corrected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simple5k",
			Name:      "provisional_places_corrected_total",
			Help:      "Finishes whose provisional place was renumbered by the cohort re-sort.",
		}),
	}
	reg.MustRegister(m.events, m.finishes, m.recomputes, m.corrected)
	return m
}

func (m *Metrics) event(result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(result).Inc()
}

func (m *Metrics) finish() {
	if m == nil {
		return
	}
	m.finishes.Inc()
}

func (m *Metrics) recompute() {
	if m == nil {
		return
	}
	m.recomputes.Inc()
}

func (m *Metrics) correction() {
	if m == nil {
		return
	}
	m.corrected.Inc()
}
