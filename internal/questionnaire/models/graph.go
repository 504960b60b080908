package models

import (
	"sort"
	"time"
)

// MaxQuestions is the default ceiling on distinct questions in one graph.
const MaxQuestions = 50

// QuestionGraph is the directed structure of questions for a questionnaire.
// Edges are owned by exactly one graph.
type QuestionGraph struct {
	ID            GraphID     `json:"id"`
	Name          string      `json:"name"`
	FirstQuestion *QuestionID `json:"first_question,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Edge is a directed transition between two questions. A nil Choice makes it
// the default transition.
type Edge struct {
	ID           EdgeID     `json:"id"`
	Graph        GraphID    `json:"graph_id"`
	Question     QuestionID `json:"question_id"`
	NextQuestion QuestionID `json:"next_question_id"`
	Choice       *Choice    `json:"choice,omitempty"`
	Order        int        `json:"order"`
}

// IsDefault reports whether the edge is taken regardless of the answer.
func (e Edge) IsDefault() bool {
	return e.Choice == nil
}

// Matches reports whether an answer payload selects this edge. A missing
// answer only ever selects default edges.
func (e Edge) Matches(answer Payload) bool {
	if e.Choice == nil {
		return true
	}
	if answer.IsNull() {
		return false
	}
	return e.Choice.Payload.Equal(answer)
}

// EdgeLess is the resolution order among a question's outgoing edges:
// ascending order, then ascending edge id.
func EdgeLess(a, b Edge) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.ID < b.ID
}

// SortEdges sorts edges in resolution order, in place.
func SortEdges(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool { return EdgeLess(edges[i], edges[j]) })
}
