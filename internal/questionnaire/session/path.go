// Package session computes a session's live path through its questionnaire
// graph. Everything here is a pure function of the graph, the questions and
// the answers; callers hold the resulting PathSnapshot for one request.
package session

import (
	"fmt"
	"strings"

	"signals/internal/questionnaire/graph"
	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
)

// ComputePath walks g from its first question using the latest answer per
// question.
//
// At each question:
//   - an answered question records its answer and follows the edge its
//     payload selects; no matching edge ends the walk at a terminal
//   - an unanswered required question is listed as unanswered and ends the
//     walk, since its outgoing transition is not known yet
//   - an unanswered optional question follows its default edge; without one
//     the walk ends, at a terminal only if the question has no edges at all
//
// Revisiting a question fails with cycle_detected, which also bounds the walk
// by the graph's node count.
func ComputePath(g *graph.Graph, questions map[models.QuestionID]models.Question, answers []models.Answer) (*models.PathSnapshot, error) {
	latest := models.LatestAnswers(answers)
	snapshot := &models.PathSnapshot{
		Answers:       make(map[models.QuestionID]models.Answer),
		ByAnalysisKey: make(map[string]models.Answer),
	}

	visited := make(map[models.QuestionID]bool, g.Len())
	current := g.First()
	for {
		if visited[current] {
			return nil, dErrors.New(dErrors.CodeCycleDetected,
				fmt.Sprintf("graph %d revisits question %d after %s", g.ID(), current, formatPath(snapshot.Questions)))
		}
		visited[current] = true
		snapshot.Questions = append(snapshot.Questions, current)

		q, ok := questions[current]
		if !ok {
			return nil, dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("graph %d references unknown question %d", g.ID(), current))
		}

		answer, answered := latest[current]
		var payload models.Payload
		switch {
		case answered:
			snapshot.Answers[current] = answer
			snapshot.ByAnalysisKey[q.AnalysisKey] = answer
			payload = answer.Payload
		case q.Required:
			snapshot.Unanswered = append(snapshot.Unanswered, current)
			snapshot.TerminalReached = !g.HasOutgoing(current)
			return finish(snapshot), nil
		}

		next, ok := g.NextQuestion(current, payload)
		if !ok {
			snapshot.TerminalReached = answered || !g.HasOutgoing(current)
			return finish(snapshot), nil
		}
		current = next
	}
}

func finish(p *models.PathSnapshot) *models.PathSnapshot {
	p.CanFreeze = p.TerminalReached && len(p.Unanswered) == 0
	return p
}

// CheckFreeze fails with cannot_freeze unless the path reached a terminal
// question with every required question answered.
func CheckFreeze(p *models.PathSnapshot) error {
	if p.CanFreeze {
		return nil
	}
	if len(p.Unanswered) > 0 {
		return dErrors.New(dErrors.CodeCannotFreeze,
			fmt.Sprintf("required questions unanswered: %s", formatPath(p.Unanswered)))
	}
	return dErrors.New(dErrors.CodeCannotFreeze, "path has not reached a final question")
}

func formatPath(ids []models.QuestionID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
