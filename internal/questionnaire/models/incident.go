package models

import (
	"time"

	"github.com/google/uuid"
)

// IncidentStatus is a status on the originating incident that a flow may
// transition to.
type IncidentStatus string

const (
	IncidentStatusReopenRequested  IncidentStatus = "reopen_requested"
	IncidentStatusReactionReceived IncidentStatus = "reaction_received"
	IncidentStatusInProgress       IncidentStatus = "in_progress"
)

// Feedback is the domain record a completed feedback request produces.
type Feedback struct {
	ID            uuid.UUID   `json:"id"`
	Incident      *IncidentID `json:"incident_id,omitempty"`
	Session       SessionID   `json:"session_id"`
	IsSatisfied   bool        `json:"is_satisfied"`
	Text          string      `json:"text,omitempty"`
	TextExtra     string      `json:"text_extra,omitempty"`
	AllowsContact bool        `json:"allows_contact"`
	SubmittedAt   time.Time   `json:"submitted_at"`
}

// NotificationKind names an outbound notification.
type NotificationKind string

const (
	NotificationFeedbackReceived NotificationKind = "feedback_received"
	NotificationReactionReceived NotificationKind = "reaction_received"
	NotificationExternalReplied  NotificationKind = "external_replied"
	NotificationNoReply          NotificationKind = "no_reply_received"
)

// Notification is a message for the notification channel. Rendering and
// delivery belong to the consumer.
type Notification struct {
	ID         uuid.UUID         `json:"id"`
	Kind       NotificationKind  `json:"kind"`
	Flow       Flow              `json:"flow"`
	Session    SessionID         `json:"session_id"`
	Incident   *IncidentID       `json:"incident_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
