// Package processor orchestrates one conversation turn: it checks out the
// sender's tracker, maintains session boundaries, parses the message, runs
// the predict/execute loop and registers or cancels reminder jobs for the
// events the loop produced before checking the tracker back in.
//
// All work for one sender is serialized by a per-sender lock, including
// reminder firings. Different senders run concurrently.
//
// Appending events, registering reminder jobs and saving the tracker are not
// one transaction. A crash after a job was registered but before the tracker
// was saved leaves a job whose ReminderScheduled event never reached the
// store; the liveness check at fire time drops such a job because the event
// is missing from the reloaded log. A crash after the save but before the
// job was registered loses the reminder.
package processor
