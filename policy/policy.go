// Package policy provides deterministic reference policies. Learned policies
// plug in through the core.Policy interface.
package policy

import (
	"context"
	"fmt"

	"github.com/hupe1980/convoflow/core"
)

// DefaultMappings are always active in a Mapping policy unless overridden.
var DefaultMappings = map[string]string{
	"restart":       core.ActionRestartName,
	"session_start": core.ActionSessionStartName,
}

// Mapping answers each user turn with the action mapped to its intent and
// predicts action_listen after any other action.
type Mapping struct {
	mapping map[string]string
}

// NewMapping creates a mapping policy from intent to action names.
func NewMapping(mapping map[string]string) *Mapping {
	m := make(map[string]string, len(DefaultMappings)+len(mapping))
	for k, v := range DefaultMappings {
		m[k] = v
	}
	for k, v := range mapping {
		m[k] = v
	}
	return &Mapping{mapping: m}
}

// Name returns the policy name logged on ActionExecuted events.
func (p *Mapping) Name() string { return "mapping" }

// Predict implements core.Policy. An unmapped intent yields an empty prediction.
func (p *Mapping) Predict(_ context.Context, tracker *core.Tracker, _ core.Domain) (core.Prediction, error) {
	if tracker.ActionsSinceLatestMessage() > 0 {
		return core.Prediction{ActionName: core.ActionListenName, PolicyName: p.Name(), Confidence: 1}, nil
	}
	if action, ok := p.mapping[tracker.LatestMessage().IntentName()]; ok {
		return core.Prediction{ActionName: action, PolicyName: p.Name(), Confidence: 1}, nil
	}
	return core.Prediction{}, nil
}

// FallbackOptions configure the fallback policy.
type FallbackOptions struct {
	// NLUThreshold is the intent confidence below which the fallback wins.
	NLUThreshold float64
	// CoreThreshold is the confidence reported for every other user turn, so
	// any more confident policy in an ensemble takes precedence.
	CoreThreshold float64
	ActionName    string
}

// Fallback predicts a fallback action for user turns nobody else handles.
type Fallback struct {
	opts FallbackOptions
}

// NewFallback creates a fallback policy.
func NewFallback(optFns ...func(o *FallbackOptions)) *Fallback {
	opts := FallbackOptions{NLUThreshold: 0.3, CoreThreshold: 0.3, ActionName: "action_default_fallback"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Fallback{opts: opts}
}

// Name returns the policy name logged on ActionExecuted events.
func (p *Fallback) Name() string { return "fallback" }

// Predict implements core.Policy.
func (p *Fallback) Predict(_ context.Context, tracker *core.Tracker, _ core.Domain) (core.Prediction, error) {
	if tracker.ActionsSinceLatestMessage() > 0 {
		return core.Prediction{}, nil
	}
	msg := tracker.LatestMessage()
	confidence := p.opts.CoreThreshold
	if msg.ParseData == nil || msg.ParseData.Intent.Confidence < p.opts.NLUThreshold {
		confidence = 1
	}
	return core.Prediction{ActionName: p.opts.ActionName, PolicyName: p.Name(), Confidence: confidence}, nil
}

// Ensemble asks every member and keeps the most confident prediction. Ties
// go to the earlier member.
type Ensemble struct {
	policies []core.Policy
}

// NewEnsemble combines policies in priority order.
func NewEnsemble(policies ...core.Policy) *Ensemble { return &Ensemble{policies: policies} }

// Predict implements core.Policy.
func (e *Ensemble) Predict(ctx context.Context, tracker *core.Tracker, domain core.Domain) (core.Prediction, error) {
	var best core.Prediction
	for i, p := range e.policies {
		pred, err := p.Predict(ctx, tracker, domain)
		if err != nil {
			return core.Prediction{}, fmt.Errorf("policy %d: %w", i, err)
		}
		if pred.ActionName != "" && (best.ActionName == "" || pred.Confidence > best.Confidence) {
			best = pred
		}
	}
	return best, nil
}
