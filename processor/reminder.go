package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/metrics"
	"github.com/hupe1980/convoflow/scheduler"
)

// JobID is the scheduler identity of a reminder: one pending job per
// reminder name and conversation.
func JobID(name, senderID string) string { return name + "|" + senderID }

// ScheduleReminders registers a job for every ReminderScheduled in events.
// Failures are logged and never abort the turn.
func (p *MessageProcessor) ScheduleReminders(_ context.Context, events []core.Event, tracker *core.Tracker, output core.OutputChannel) {
	for _, e := range events {
		if r, ok := e.(*core.ReminderScheduled); ok {
			p.scheduleReminder(r, tracker.SenderID, output)
		}
	}
	p.reportPending()
}

// CancelReminders removes this sender's pending jobs matching each
// ReminderCancelled in events. A Restarted supersedes every pending reminder
// of the conversation.
func (p *MessageProcessor) CancelReminders(_ context.Context, events []core.Event, tracker *core.Tracker) {
	for _, e := range events {
		switch ev := e.(type) {
		case *core.ReminderCancelled:
			p.cancelReminders(ev, tracker.SenderID)
		case *core.Restarted:
			p.supersedeReminders(tracker.SenderID)
		}
	}
	p.reportPending()
}

// updateReminders applies the reminder events of one action in log order, so
// a reminder scheduled after a Restarted or a matching ReminderCancelled of
// the same batch stays pending, exactly as IsReminderLive sees it.
func (p *MessageProcessor) updateReminders(events []core.Event, tracker *core.Tracker, output core.OutputChannel) {
	senderID := tracker.SenderID
	for _, e := range events {
		switch ev := e.(type) {
		case *core.ReminderScheduled:
			p.scheduleReminder(ev, senderID, output)
		case *core.ReminderCancelled:
			p.cancelReminders(ev, senderID)
		case *core.Restarted:
			p.supersedeReminders(senderID)
		}
	}
	p.reportPending()
}

func (p *MessageProcessor) scheduleReminder(r *core.ReminderScheduled, senderID string, output core.OutputChannel) {
	if p.scheduler == nil {
		p.logger.Warn("No scheduler configured, ignoring reminder", "sender_id", senderID, "reminder", r.Name)
		return
	}
	out := unwrapRecorder(output)
	job := scheduler.Job{
		ID:         JobID(r.Name, senderID),
		SenderID:   senderID,
		Name:       r.Name,
		ActionName: r.ActionName,
		At:         r.TriggerAt,
		Run: func(ctx context.Context) error {
			return p.HandleReminder(ctx, r, senderID, out)
		},
	}
	if err := p.scheduler.Schedule(job); err != nil {
		p.logger.Error("Failed to schedule reminder", "sender_id", senderID, "reminder", r.Name, "error", err)
		p.metrics.IncReminder(metrics.ReminderFailed)
		return
	}
	p.metrics.IncReminder(metrics.ReminderScheduled)
	p.logReminder(senderID, r.Name, r.ActionName, metrics.ReminderScheduled)
}

func (p *MessageProcessor) cancelReminders(sel *core.ReminderCancelled, senderID string) {
	if p.scheduler == nil {
		return
	}
	n := p.scheduler.CancelMatching(func(info scheduler.JobInfo) bool {
		return info.SenderID == senderID && core.MatchesReminder(sel.Name, sel.ActionName, info.Name, info.ActionName)
	})
	p.metrics.AddReminders(metrics.ReminderCancelled, n)
	if n > 0 {
		p.logReminder(senderID, sel.Name, sel.ActionName, metrics.ReminderCancelled)
	}
}

func (p *MessageProcessor) supersedeReminders(senderID string) {
	if p.scheduler == nil {
		return
	}
	n := p.scheduler.CancelMatching(func(info scheduler.JobInfo) bool {
		return info.SenderID == senderID
	})
	p.metrics.AddReminders(metrics.ReminderSuperseded, n)
	if n > 0 {
		p.logger.Debug("Restart superseded pending reminders", "sender_id", senderID, "count", n)
	}
}

// HandleReminder fires a reminder for senderID. It reloads the tracker and
// drops the reminder when it is no longer live; otherwise it runs the
// reminder's action and continues predicting.
func (p *MessageProcessor) HandleReminder(ctx context.Context, reminder *core.ReminderScheduled, senderID string, output core.OutputChannel) error {
	if p.store == nil {
		return fmt.Errorf("%w: no tracker store", core.ErrConfiguration)
	}
	unlock, err := p.locks.lock(ctx, senderID)
	if err != nil {
		return err
	}
	defer unlock()

	tracker, err := p.store.Retrieve(ctx, senderID)
	if errors.Is(err, core.ErrTrackerNotFound) {
		p.logger.Warn("Dropping reminder for unknown conversation", "sender_id", senderID, "reminder", reminder.Name)
		p.metrics.IncReminder(metrics.ReminderAborted)
		return nil
	}
	if err != nil {
		p.logger.Error("Dropping reminder, tracker could not be loaded", "sender_id", senderID, "reminder", reminder.Name, "error", err)
		p.metrics.IncReminder(metrics.ReminderFailed)
		return nil
	}

	if !IsReminderLive(tracker, reminder) {
		p.logger.Debug("Canceled reminder because it is outdated", "sender_id", senderID, "reminder", reminder.Name)
		p.metrics.IncReminder(metrics.ReminderAborted)
		p.logReminder(senderID, reminder.Name, reminder.ActionName, metrics.ReminderAborted)
		return nil
	}

	a, err := p.actions.Get(reminder.ActionName)
	if err != nil {
		p.metrics.IncReminder(metrics.ReminderFailed)
		return err
	}

	rec := newRecorder(output)
	tracker.Update(core.NewUserUttered("", nil, ""))
	if p.runAction(ctx, tracker, a, rec, core.Prediction{}) {
		if err := p.predictAndExecute(ctx, tracker, rec); err != nil {
			p.metrics.IncReminder(metrics.ReminderFailed)
			return err
		}
	}
	if err := p.save(ctx, tracker); err != nil {
		p.metrics.IncReminder(metrics.ReminderFailed)
		return err
	}
	p.metrics.IncReminder(metrics.ReminderFired)
	p.logReminder(senderID, reminder.Name, reminder.ActionName, metrics.ReminderFired)
	return nil
}

// IsReminderLive reports whether reminder may still fire on tracker: it is
// the newest reminder of its name after the latest restart, no cancellation
// matching it follows it and, if it dies on user messages, no non-empty user
// message follows it.
func IsReminderLive(tracker *core.Tracker, reminder *core.ReminderScheduled) bool {
	applied := tracker.AppliedEvents()
	for i := len(applied) - 1; i >= 0; i-- {
		switch e := applied[i].(type) {
		case *core.ReminderScheduled:
			if e.Name == reminder.Name {
				return e.SameReminder(reminder)
			}
		case *core.ReminderCancelled:
			if e.Matches(reminder) {
				return false
			}
		case *core.UserUttered:
			if reminder.KillOnUserMessage && e.Text != "" {
				return false
			}
		}
	}
	return false
}

func (p *MessageProcessor) reportPending() {
	if p.scheduler != nil {
		p.metrics.SetPendingReminders(p.scheduler.Len())
	}
}

// unwrapRecorder keeps a turn's recorder out of jobs that outlive the turn.
func unwrapRecorder(out core.OutputChannel) core.OutputChannel {
	if r, ok := out.(*recorder); ok {
		return r.OutputChannel
	}
	return out
}
