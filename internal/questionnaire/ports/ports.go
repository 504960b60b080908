// Package ports defines the external collaborators flow completion hooks
// talk to. The incident backend, the feedback archive and the notification
// channel live outside this service.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks IncidentService,FeedbackStore,Notifier

import (
	"context"

	"signals/internal/questionnaire/models"
)

// IncidentService changes the originating incident of a session.
type IncidentService interface {
	// TransitionStatus moves the incident to status, attaching note as the
	// transition text.
	TransitionStatus(ctx context.Context, incident models.IncidentID, status models.IncidentStatus, note string) error

	// AddNote appends a note to the incident's history.
	AddNote(ctx context.Context, incident models.IncidentID, text string) error

	// SetExtraProperties stores answers keyed by analysis key on the incident.
	SetExtraProperties(ctx context.Context, incident models.IncidentID, properties map[string]models.Payload) error
}

// FeedbackStore archives feedback records.
type FeedbackStore interface {
	CreateFeedback(ctx context.Context, feedback *models.Feedback) error
}

// Notifier hands a notification to the delivery channel.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}
