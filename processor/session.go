package processor

import (
	"context"
	"time"

	"github.com/hupe1980/convoflow/action"
	"github.com/hupe1980/convoflow/core"
)

// IsLegacyTracker reports whether the log holds no SessionStarted event,
// i.e. the conversation predates session handling.
func (p *MessageProcessor) IsLegacyTracker(tracker *core.Tracker) bool {
	_, ok := tracker.LatestSessionStart()
	return !ok
}

// HasSessionExpired reports whether more than minutes have passed since the
// latest SessionStarted. Trackers without one never expire, and minutes <= 0
// disables expiry.
func (p *MessageProcessor) HasSessionExpired(tracker *core.Tracker, minutes float64) bool {
	if minutes <= 0 {
		return false
	}
	start, ok := tracker.LatestSessionStart()
	if !ok {
		return false
	}
	window := time.Duration(minutes * float64(time.Minute))
	return p.opts.Now().Sub(start) > window
}

// UpdateTrackerSession starts a session on a brand-new tracker and restarts
// an expired one by running action_session_start. Legacy trackers are left
// untouched. The tracker is not saved.
func (p *MessageProcessor) UpdateTrackerSession(ctx context.Context, tracker *core.Tracker, output core.OutputChannel, minutes float64) error {
	var reason string
	switch {
	case tracker.Len() == 0:
		tracker.Update(core.NewSessionStarted())
		tracker.Update(core.NewActionExecuted(action.ListenName))
		reason = "new"
	case p.IsLegacyTracker(tracker):
		return nil
	case p.HasSessionExpired(tracker, minutes):
		reason = "expired"
	default:
		return nil
	}

	start, err := p.actions.Get(action.SessionStartName)
	if err != nil {
		return err
	}
	p.logger.Debug("Starting a new session", "sender_id", tracker.SenderID, "reason", reason)
	p.metrics.IncSession(reason)
	p.runAction(ctx, tracker, start, output, core.Prediction{})
	return nil
}

// sessionExpirationMinutes is the configured override or the domain's
// session length.
func (p *MessageProcessor) sessionExpirationMinutes() float64 {
	if p.opts.SessionExpirationMinutes != nil {
		return *p.opts.SessionExpirationMinutes
	}
	if p.domain == nil {
		return 0
	}
	return p.domain.SessionConfig().ExpirationMinutes
}
