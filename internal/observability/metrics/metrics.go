package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SafetyMetrics exposes counters/histograms for the safety-monitoring flow.
type SafetyMetrics struct {
	classifiedTotal *prometheus.CounterVec
	crisisTotal     *prometheus.CounterVec
	sessionsStarted prometheus.Counter
	sessionsEnded   prometheus.Counter
	breakReminders  prometheus.Counter
	classifyLatency prometheus.Histogram
}

func NewSafetyMetrics(reg prometheus.Registerer) *SafetyMetrics {
	m := &SafetyMetrics{
		classifiedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "safety",
			Name:      "messages_classified_total",
			Help:      "Total user messages run through the crisis classifier",
		}, []string{"tier"}),
		crisisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "safety",
			Name:      "crisis_detected_total",
			Help:      "Total crisis detections (tier > 0)",
		}, []string{"tier", "action"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "safety",
			Name:      "sessions_started_total",
			Help:      "Total companion sessions started",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "safety",
			Name:      "sessions_ended_total",
			Help:      "Total companion sessions ended",
		}),
		breakReminders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "safety",
			Name:      "break_reminders_total",
			Help:      "Total break reminders marked shown",
		}),
		classifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "companion",
			Subsystem: "safety",
			Name:      "classify_latency_seconds",
			Help:      "Latency of crisis classification",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.classifiedTotal, m.crisisTotal,
		m.sessionsStarted, m.sessionsEnded,
		m.breakReminders, m.classifyLatency,
	)
	return m
}

func (m *SafetyMetrics) ObserveClassified(tier int) {
	if m == nil {
		return
	}
	m.classifiedTotal.WithLabelValues(strconv.Itoa(tier)).Inc()
}

func (m *SafetyMetrics) ObserveCrisis(tier int, action string) {
	if m == nil {
		return
	}
	m.crisisTotal.WithLabelValues(strconv.Itoa(tier), action).Inc()
}

func (m *SafetyMetrics) ObserveSessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *SafetyMetrics) ObserveSessionEnded() {
	if m == nil {
		return
	}
	m.sessionsEnded.Inc()
}

func (m *SafetyMetrics) ObserveBreakReminder() {
	if m == nil {
		return
	}
	m.breakReminders.Inc()
}

func (m *SafetyMetrics) ObserveClassifyLatency(seconds float64) {
	if m == nil {
		return
	}
	m.classifyLatency.Observe(seconds)
}
