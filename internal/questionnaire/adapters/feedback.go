package adapters

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"signals/internal/questionnaire/models"
	"signals/internal/questionnaire/ports"
)

// FeedbackArchive keeps feedback in memory. A record whose id is already
// stored is ignored, so retried completions do not duplicate feedback.
type FeedbackArchive struct {
	mu      sync.RWMutex
	records map[uuid.UUID]models.Feedback
	order   []uuid.UUID
}

func NewFeedbackArchive() *FeedbackArchive {
	return &FeedbackArchive{records: make(map[uuid.UUID]models.Feedback)}
}

var _ ports.FeedbackStore = (*FeedbackArchive)(nil)

func (a *FeedbackArchive) CreateFeedback(_ context.Context, feedback *models.Feedback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.records[feedback.ID]; ok {
		return nil
	}
	a.records[feedback.ID] = *feedback
	a.order = append(a.order, feedback.ID)
	return nil
}

// List returns feedback in arrival order.
func (a *FeedbackArchive) List() []models.Feedback {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Feedback, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.records[id])
	}
	return out
}
