package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signals/internal/questionnaire/models"
)

// Default windows, overridable through configuration.
const (
	FeedbackRequestWindow   = 14 * 24 * time.Hour
	ReactionRequestWindow   = 5 * 24 * time.Hour
	ForwardToExternalWindow = 3 * 24 * time.Hour
)

const (
	noReactionNote = "No reaction received."
	noReplyNote    = "No reply received from the external party."
)

// effectNamespace derives stable ids for records a hook creates, so retries
// of the same completion reuse the same id.
var effectNamespace = uuid.MustParse("6f1c8a52-2c4e-4d7e-9b1a-3f5d2b7c9e10")

func effectID(session models.SessionID, effect string) uuid.UUID {
	return uuid.NewSHA1(effectNamespace, []byte(session.String()+"/"+effect))
}

func stringAnswer(p *models.PathSnapshot, key string) string {
	a, ok := p.AnswerFor(key)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Payload, &s); err != nil {
		return ""
	}
	return s
}

func boolAnswer(p *models.PathSnapshot, key string) (value, ok bool) {
	a, found := p.AnswerFor(key)
	if !found {
		return false, false
	}
	if err := json.Unmarshal(a.Payload, &value); err != nil {
		return false, false
	}
	return value, true
}

func notification(c Completion, kind models.NotificationKind, attrs map[string]string) models.Notification {
	return models.Notification{
		ID:         effectID(c.Session.ID, string(kind)),
		Kind:       kind,
		Flow:       c.Questionnaire.Flow,
		Session:    c.Session.ID,
		Incident:   c.Session.Incident,
		Attributes: attrs,
		OccurredAt: c.Now,
	}
}

// extra_properties: answers become properties on the incident.
func extraPropertiesPolicy(deps Dependencies) Policy {
	return Policy{
		OnFreeze: func(ctx context.Context, c Completion) error {
			if c.Session.Incident == nil {
				return nil
			}
			props := make(map[string]models.Payload, len(c.Path.ByAnalysisKey))
			for key, a := range c.Path.ByAnalysisKey {
				props[key] = a.Payload
			}
			if err := deps.Incidents.SetExtraProperties(ctx, *c.Session.Incident, props); err != nil {
				return fmt.Errorf("set extra properties: %w", err)
			}
			return nil
		},
	}
}

// feedback_request: the diamond of satisfaction questions becomes a Feedback
// record; an unsatisfied reporter asks for the incident to be reopened.
func feedbackRequestPolicy(deps Dependencies) Policy {
	return Policy{
		Window: Window{SubmitWithin: FeedbackRequestWindow},
		OnFreeze: func(ctx context.Context, c Completion) error {
			satisfied, ok := boolAnswer(c.Path, "satisfied")
			if !ok {
				return fmt.Errorf("feedback session %s has no satisfaction answer", c.Session.ID)
			}
			text := stringAnswer(c.Path, "reason_satisfied")
			if !satisfied {
				text = stringAnswer(c.Path, "reason_unsatisfied")
			}
			allowsContact, _ := boolAnswer(c.Path, "allows_contact")

			feedback := &models.Feedback{
				ID:            effectID(c.Session.ID, "feedback"),
				Incident:      c.Session.Incident,
				Session:       c.Session.ID,
				IsSatisfied:   satisfied,
				Text:          text,
				TextExtra:     stringAnswer(c.Path, "text_extra"),
				AllowsContact: allowsContact,
				SubmittedAt:   c.Now,
			}
			if err := deps.Feedback.CreateFeedback(ctx, feedback); err != nil {
				return fmt.Errorf("create feedback: %w", err)
			}

			if !satisfied && c.Session.Incident != nil {
				if err := deps.Incidents.TransitionStatus(ctx, *c.Session.Incident, models.IncidentStatusReopenRequested, text); err != nil {
					return fmt.Errorf("request reopen: %w", err)
				}
			}

			attrs := map[string]string{"is_satisfied": fmt.Sprint(satisfied)}
			if err := deps.Notifier.Notify(ctx, notification(c, models.NotificationFeedbackReceived, attrs)); err != nil {
				return fmt.Errorf("notify feedback received: %w", err)
			}
			return nil
		},
	}
}

// reaction_request: the reporter's answer is handed back to the incident.
func reactionRequestPolicy(deps Dependencies) Policy {
	return Policy{
		Window:         Window{SubmitWithin: ReactionRequestWindow},
		RequiredParams: []string{"question"},
		OnFreeze: func(ctx context.Context, c Completion) error {
			reaction := stringAnswer(c.Path, "reaction")
			if c.Session.Incident != nil {
				if err := deps.Incidents.TransitionStatus(ctx, *c.Session.Incident, models.IncidentStatusReactionReceived, reaction); err != nil {
					return fmt.Errorf("record reaction: %w", err)
				}
			}
			if err := deps.Notifier.Notify(ctx, notification(c, models.NotificationReactionReceived, nil)); err != nil {
				return fmt.Errorf("notify reaction received: %w", err)
			}
			return nil
		},
		OnExpire: func(ctx context.Context, c Completion) error {
			if c.Session.Incident == nil {
				return nil
			}
			if err := deps.Incidents.TransitionStatus(ctx, *c.Session.Incident, models.IncidentStatusReactionReceived, noReactionNote); err != nil {
				return fmt.Errorf("record missing reaction: %w", err)
			}
			return nil
		},
	}
}

// forward_to_external: the external party's reply is noted and the incident
// goes back to in progress. Without a reply the same transition happens with
// a note saying so.
func forwardToExternalPolicy(deps Dependencies) Policy {
	return Policy{
		Window:         Window{SubmitWithin: ForwardToExternalWindow},
		RequiredParams: []string{"question", "party"},
		OnFreeze: func(ctx context.Context, c Completion) error {
			reply := stringAnswer(c.Path, "reply")
			if c.Session.Incident != nil {
				if err := deps.Incidents.AddNote(ctx, *c.Session.Incident, "Reply from external party: "+reply); err != nil {
					return fmt.Errorf("note external reply: %w", err)
				}
				if err := deps.Incidents.TransitionStatus(ctx, *c.Session.Incident, models.IncidentStatusInProgress, reply); err != nil {
					return fmt.Errorf("transition after external reply: %w", err)
				}
			}
			if err := deps.Notifier.Notify(ctx, notification(c, models.NotificationExternalReplied, nil)); err != nil {
				return fmt.Errorf("notify external reply: %w", err)
			}
			return nil
		},
		OnExpire: func(ctx context.Context, c Completion) error {
			if c.Session.Incident != nil {
				if err := deps.Incidents.AddNote(ctx, *c.Session.Incident, noReplyNote); err != nil {
					return fmt.Errorf("note missing reply: %w", err)
				}
				if err := deps.Incidents.TransitionStatus(ctx, *c.Session.Incident, models.IncidentStatusInProgress, noReplyNote); err != nil {
					return fmt.Errorf("transition after missing reply: %w", err)
				}
			}
			if err := deps.Notifier.Notify(ctx, notification(c, models.NotificationNoReply, nil)); err != nil {
				return fmt.Errorf("notify missing reply: %w", err)
			}
			return nil
		},
	}
}
