// Package flows holds the per-flow policies sessions follow: the graph a flow
// starts from, the deadline window of its sessions and the side effects that
// run when a session is frozen or expires unanswered.
package flows

import (
	"context"
	"fmt"
	"time"

	"signals/internal/questionnaire/models"
	"signals/internal/questionnaire/ports"
	dErrors "signals/pkg/domain-errors"
)

// Window is the deadline policy for a flow's sessions. Zero values mean no
// deadline of that kind.
type Window struct {
	SubmitWithin time.Duration
	Duration     time.Duration
}

// Completion is what a hook gets to work with. Path is nil for expiry.
type Completion struct {
	Session       *models.Session
	Questionnaire *models.Questionnaire
	Path          *models.PathSnapshot
	Now           time.Time
}

// Hook runs one completion side effect. Hooks may be retried after a partial
// failure; records they create carry ids derived from the session so
// receivers can deduplicate.
type Hook func(ctx context.Context, c Completion) error

// Policy is the behavior of one flow.
type Policy struct {
	Flow           models.Flow
	Window         Window
	Definition     Definition
	RequiredParams []string
	OnFreeze       Hook
	// OnExpire is the fallback when the cleanup sweep invalidates a session;
	// nil means invalidation has no side effect.
	OnExpire Hook
}

// Dependencies are the collaborators flow hooks call.
type Dependencies struct {
	Incidents ports.IncidentService
	Feedback  ports.FeedbackStore
	Notifier  ports.Notifier
}

// Registry selects a Policy by flow.
type Registry struct {
	policies map[models.Flow]Policy
}

// NewRegistry builds the policies of every known flow with their embedded
// graph definitions. windows overrides the default window per flow.
func NewRegistry(deps Dependencies, windows map[models.Flow]Window) (*Registry, error) {
	if deps.Incidents == nil || deps.Feedback == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("incidents, feedback and notifier are required")
	}
	r := &Registry{policies: make(map[models.Flow]Policy, len(models.Flows))}
	constructors := map[models.Flow]func(Dependencies) Policy{
		models.FlowExtraProperties:   extraPropertiesPolicy,
		models.FlowFeedbackRequest:   feedbackRequestPolicy,
		models.FlowReactionRequest:   reactionRequestPolicy,
		models.FlowForwardToExternal: forwardToExternalPolicy,
	}
	for _, flow := range models.Flows {
		build, ok := constructors[flow]
		if !ok {
			return nil, fmt.Errorf("no policy for flow %s", flow)
		}
		def, err := LoadDefinition(string(flow))
		if err != nil {
			return nil, err
		}
		p := build(deps)
		p.Flow = flow
		p.Definition = def
		if w, ok := windows[flow]; ok {
			p.Window = w
		}
		r.policies[flow] = p
	}
	return r, nil
}

// Policy returns the policy for flow.
func (r *Registry) Policy(flow models.Flow) (Policy, error) {
	p, ok := r.policies[flow]
	if !ok {
		return Policy{}, dErrors.NewField(dErrors.CodeValidation, "flow", fmt.Sprintf("unknown flow %q", flow))
	}
	return p, nil
}

// CheckParams fails when a parameter the flow's labels need is missing.
func (p Policy) CheckParams(params Params) error {
	for _, name := range p.RequiredParams {
		if params[name] == "" {
			return dErrors.NewField(dErrors.CodeValidation, name, fmt.Sprintf("parameter %q is required for flow %s", name, p.Flow))
		}
	}
	return nil
}
