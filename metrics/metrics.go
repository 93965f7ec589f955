// Package metrics exposes Prometheus collectors for message handling, session
// restarts and reminder lifecycles. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "convoflow"

// Reminder outcomes.
const (
	ReminderScheduled  = "scheduled"
	ReminderFired      = "fired"
	ReminderAborted    = "aborted"
	ReminderCancelled  = "cancelled"
	ReminderSuperseded = "superseded"
	ReminderFailed     = "failed"
)

// Metrics bundles the collectors used by the processor.
type Metrics struct {
	messages        *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	actions         *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	reminders       *prometheus.CounterVec
	circuitBreaks   prometheus.Counter
	pendingJobs     prometheus.Gauge
}

// MustNew creates the collectors and registers them with reg (the default
// registerer when nil). Collectors already registered under the same name are
// reused.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "messages_total",
			Help:      "Inbound messages handled, by status.",
		}, []string{"status"}),
		messageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "message_duration_seconds",
			Help:      "Time spent handling one inbound message.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "actions_total",
			Help:      "Actions executed, by action name and status.",
		}, []string{"action", "status"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "sessions_started_total",
			Help:      "Sessions started, by reason (new or expired).",
		}, []string{"reason"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "transitions_total",
			Help:      "Reminder lifecycle transitions, by outcome.",
		}, []string{"outcome"}),
		circuitBreaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "circuit_breaks_total",
			Help:      "Prediction loops stopped at the prediction limit.",
		}),
		pendingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "pending",
			Help:      "Reminder jobs currently registered with the scheduler.",
		}),
	}

	m.messages = register(reg, m.messages)
	m.messageDuration = register(reg, m.messageDuration)
	m.actions = register(reg, m.actions)
	m.sessions = register(reg, m.sessions)
	m.reminders = register(reg, m.reminders)
	m.circuitBreaks = register(reg, m.circuitBreaks)
	m.pendingJobs = register(reg, m.pendingJobs)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveMessage records one handled message.
func (m *Metrics) ObserveMessage(d time.Duration, err error) {
	if m == nil {
		return
	}
	s := status(err)
	m.messages.WithLabelValues(s).Inc()
	m.messageDuration.WithLabelValues(s).Observe(d.Seconds())
}

// IncAction records one executed action.
func (m *Metrics) IncAction(name string, err error) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(name, status(err)).Inc()
}

// IncSession records a session start.
func (m *Metrics) IncSession(reason string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(reason).Inc()
}

// IncReminder records a reminder transition.
func (m *Metrics) IncReminder(outcome string) {
	m.AddReminders(outcome, 1)
}

// AddReminders records n reminder transitions with the same outcome.
func (m *Metrics) AddReminders(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reminders.WithLabelValues(outcome).Add(float64(n))
}

// IncCircuitBreak records a prediction loop stopped at the limit.
func (m *Metrics) IncCircuitBreak() {
	if m == nil {
		return
	}
	m.circuitBreaks.Inc()
}

// SetPendingReminders reports the number of registered reminder jobs.
func (m *Metrics) SetPendingReminders(n int) {
	if m == nil {
		return
	}
	m.pendingJobs.Set(float64(n))
}
