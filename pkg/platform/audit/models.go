package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers events that change the recorded outcome of a
	// questionnaire: frozen submissions, invalidations, admin edits of a graph.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers routine activity useful for debugging: answers,
	// session starts, completion retries.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	// Subject is the session id for session events and the graph or
	// questionnaire id for administrative events.
	Subject  string
	Action   string
	Flow     string
	Decision string
	Reason   string
	// RequestID is the correlation id from the HTTP request context.
	RequestID string
	// ActorID is set for admin operations.
	ActorID string
}

type AuditEvent string

const (
	// Session events
	EventSessionStarted     AuditEvent = "session_started"
	EventAnswerRecorded     AuditEvent = "answer_recorded"
	EventSessionFrozen      AuditEvent = "session_frozen"
	EventSessionInvalidated AuditEvent = "session_invalidated"

	// Completion events
	EventCompletionSucceeded AuditEvent = "completion_succeeded"
	EventCompletionFailed    AuditEvent = "completion_failed"
	EventCompletionAbandoned AuditEvent = "completion_abandoned"

	// Admin events
	EventQuestionnaireCreated AuditEvent = "questionnaire_created"
	EventEdgesReordered       AuditEvent = "edges_reordered"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventSessionFrozen:        CategoryCompliance,
	EventSessionInvalidated:   CategoryCompliance,
	EventCompletionAbandoned:  CategoryCompliance,
	EventQuestionnaireCreated: CategoryCompliance,
	EventEdgesReordered:       CategoryCompliance,

	EventSessionStarted:      CategoryOperations,
	EventAnswerRecorded:      CategoryOperations,
	EventCompletionSucceeded: CategoryOperations,
	EventCompletionFailed:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
