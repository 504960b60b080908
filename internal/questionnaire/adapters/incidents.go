// Package adapters implements the ports flow hooks call: an in-process
// incident ledger, a feedback archive and notification delivery.
package adapters

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"signals/internal/questionnaire/models"
	"signals/internal/questionnaire/ports"
)

// IncidentChange is one recorded call against an incident.
type IncidentChange struct {
	Status     models.IncidentStatus
	Note       string
	Properties map[string]models.Payload
}

// IncidentLedger records incident changes in process. It stands in for the
// incident backend when none is configured and logs every change.
type IncidentLedger struct {
	mu      sync.RWMutex
	history map[models.IncidentID][]IncidentChange
	logger  *slog.Logger
}

func NewIncidentLedger(logger *slog.Logger) *IncidentLedger {
	return &IncidentLedger{
		history: make(map[models.IncidentID][]IncidentChange),
		logger:  logger,
	}
}

var _ ports.IncidentService = (*IncidentLedger)(nil)

func (l *IncidentLedger) TransitionStatus(ctx context.Context, incident models.IncidentID, status models.IncidentStatus, note string) error {
	l.record(incident, IncidentChange{Status: status, Note: note})
	l.log(ctx, "incident status changed", "incident_id", int64(incident), "status", string(status))
	return nil
}

func (l *IncidentLedger) AddNote(ctx context.Context, incident models.IncidentID, text string) error {
	l.record(incident, IncidentChange{Note: text})
	l.log(ctx, "incident note added", "incident_id", int64(incident))
	return nil
}

// SetExtraProperties replaces previously stored values key by key.
func (l *IncidentLedger) SetExtraProperties(ctx context.Context, incident models.IncidentID, properties map[string]models.Payload) error {
	l.record(incident, IncidentChange{Properties: maps.Clone(properties)})
	l.log(ctx, "incident properties set", "incident_id", int64(incident), "count", len(properties))
	return nil
}

// History returns the changes recorded for incident, oldest first.
func (l *IncidentLedger) History(incident models.IncidentID) []IncidentChange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]IncidentChange(nil), l.history[incident]...)
}

// Properties merges every SetExtraProperties call for incident.
func (l *IncidentLedger) Properties(incident models.IncidentID) map[string]models.Payload {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]models.Payload)
	for _, c := range l.history[incident] {
		maps.Copy(out, c.Properties)
	}
	return out
}

func (l *IncidentLedger) record(incident models.IncidentID, c IncidentChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history[incident] = append(l.history[incident], c)
}

func (l *IncidentLedger) log(ctx context.Context, msg string, args ...any) {
	if l.logger != nil {
		l.logger.InfoContext(ctx, msg, args...)
	}
}
