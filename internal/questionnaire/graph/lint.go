package graph

import (
	"fmt"

	"signals/internal/questionnaire/models"
)

// IssueKind classifies a lint finding.
type IssueKind string

const (
	// A default edge sorts before a choice edge of the same question, so the
	// choice can never be taken.
	IssueShadowedChoice IssueKind = "shadowed_choice"
	// Two choice edges of one question carry the same payload; the later one
	// can never be taken.
	IssueDuplicateChoice IssueKind = "duplicate_choice"
	// A cycle is reachable from the first question; path computation fails.
	IssueCycle IssueKind = "cycle"
	// A question cannot be reached from the first question.
	IssueOrphan IssueKind = "orphan"
)

// Issue is one lint finding.
type Issue struct {
	Kind      IssueKind           `json:"kind"`
	Question  models.QuestionID   `json:"question_id,omitempty"`
	Edge      models.EdgeID       `json:"edge_id,omitempty"`
	Questions []models.QuestionID `json:"questions,omitempty"`
	Message   string              `json:"message"`
}

// Lint inspects a graph for authoring mistakes the engine tolerates at
// runtime. Results are ordered by question, then edge.
func Lint(g *Graph) []Issue {
	var issues []Issue
	for _, q := range g.Questions() {
		issues = append(issues, lintArcs(q, g.adjacency[q])...)
	}
	if cycle := g.FindCycle(); cycle != nil {
		issues = append(issues, Issue{
			Kind:      IssueCycle,
			Question:  cycle[0],
			Questions: cycle,
			Message:   fmt.Sprintf("cycle through %d questions reachable from the first question", len(cycle)),
		})
	}
	for _, q := range g.Orphans() {
		issues = append(issues, Issue{
			Kind:     IssueOrphan,
			Question: q,
			Message:  "question is not reachable from the first question",
		})
	}
	return issues
}

func lintArcs(q models.QuestionID, arcs []arc) []Issue {
	var issues []Issue
	var defaultEdge *arc
	var seen []arc
	for i := range arcs {
		a := arcs[i]
		if a.choice == nil {
			if defaultEdge == nil {
				defaultEdge = &arcs[i]
			}
			continue
		}
		if defaultEdge != nil {
			issues = append(issues, Issue{
				Kind:     IssueShadowedChoice,
				Question: q,
				Edge:     a.edge,
				Message:  fmt.Sprintf("default edge %d is tried before choice edge %d", defaultEdge.edge, a.edge),
			})
			continue
		}
		for _, prev := range seen {
			if prev.choice.Equal(a.choice) {
				issues = append(issues, Issue{
					Kind:     IssueDuplicateChoice,
					Question: q,
					Edge:     a.edge,
					Message:  fmt.Sprintf("choice edge %d repeats the payload of edge %d", a.edge, prev.edge),
				})
				break
			}
		}
		seen = append(seen, a)
	}
	return issues
}

// DefaultsLast fails when a choice edge of some question sorts after one of
// its default edges.
func DefaultsLast(edges []models.Edge) error {
	byQuestion := make(map[models.QuestionID][]models.Edge)
	for _, e := range edges {
		byQuestion[e.Question] = append(byQuestion[e.Question], e)
	}
	for q, out := range byQuestion {
		models.SortEdges(out)
		defaultSeen := false
		for _, e := range out {
			if e.IsDefault() {
				defaultSeen = true
				continue
			}
			if defaultSeen {
				return fmt.Errorf("question %d: choice edge %d is ordered after a default edge", q, e.ID)
			}
		}
	}
	return nil
}
