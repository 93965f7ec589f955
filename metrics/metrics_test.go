package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.ObserveMessage(10*time.Millisecond, nil)
	m.ObserveMessage(time.Millisecond, errors.New("boom"))
	m.IncAction("utter_greet", nil)
	m.IncSession("new")
	m.IncReminder(ReminderFired)
	m.AddReminders(ReminderCancelled, 2)
	m.AddReminders(ReminderCancelled, 0)
	m.IncCircuitBreak()
	m.SetPendingReminders(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("utter_greet", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reminders.WithLabelValues(ReminderFired)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reminders.WithLabelValues(ReminderCancelled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitBreaks))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pendingJobs))
}

func TestMustNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNew(reg)
	b := MustNew(reg)

	a.IncSession("expired")
	assert.Equal(t, 1.0, testutil.ToFloat64(b.sessions.WithLabelValues("expired")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveMessage(time.Second, nil)
		m.IncAction("a", nil)
		m.IncSession("new")
		m.IncReminder(ReminderFired)
		m.IncCircuitBreak()
		m.SetPendingReminders(1)
	})
}
