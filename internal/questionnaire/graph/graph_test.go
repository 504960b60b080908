package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signals/internal/questionnaire/graph"
	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
)

const testGraph models.GraphID = 1

func meta(first models.QuestionID) models.QuestionGraph {
	return models.QuestionGraph{ID: testGraph, Name: "test", FirstQuestion: &first}
}

func choiceEdge(id models.EdgeID, from, to models.QuestionID, payload any, order int) models.Edge {
	return models.Edge{
		ID:           id,
		Graph:        testGraph,
		Question:     from,
		NextQuestion: to,
		Choice:       &models.Choice{ID: models.ChoiceID(id), Question: from, Payload: models.PayloadOf(payload)},
		Order:        order,
	}
}

func defaultEdge(id models.EdgeID, from, to models.QuestionID, order int) models.Edge {
	return models.Edge{ID: id, Graph: testGraph, Question: from, NextQuestion: to, Order: order}
}

// diamond: 1 -a-> 2, 1 -b-> 3, 2 -> 4, 3 -> 4
func diamond() []models.Edge {
	return []models.Edge{
		choiceEdge(1, 1, 2, "a", 0),
		choiceEdge(2, 1, 3, "b", 1),
		defaultEdge(3, 2, 4, 0),
		defaultEdge(4, 3, 4, 0),
	}
}

func chain(n int) []models.Edge {
	edges := make([]models.Edge, 0, n-1)
	for i := 1; i < n; i++ {
		edges = append(edges, defaultEdge(models.EdgeID(i), models.QuestionID(i), models.QuestionID(i+1), 0))
	}
	return edges
}

func TestBuildEnforcesQuestionCeiling(t *testing.T) {
	t.Run("exactly the limit is accepted", func(t *testing.T) {
		g, err := graph.Build(meta(1), chain(models.MaxQuestions), models.MaxQuestions)
		require.NoError(t, err)
		assert.Equal(t, models.MaxQuestions, g.Len())
	})

	t.Run("one more fails", func(t *testing.T) {
		_, err := graph.Build(meta(1), chain(models.MaxQuestions+1), models.MaxQuestions)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeGraphTooLarge))
	})

	t.Run("an isolated first question counts", func(t *testing.T) {
		_, err := graph.Build(meta(999), chain(3), 3)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeGraphTooLarge))
	})

	t.Run("configured limit overrides the default", func(t *testing.T) {
		_, err := graph.Build(meta(1), chain(5), 4)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeGraphTooLarge))
	})
}

func TestBuildRejectsMalformedGraphs(t *testing.T) {
	t.Run("missing first question", func(t *testing.T) {
		_, err := graph.Build(models.QuestionGraph{ID: testGraph}, diamond(), 0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("edge of another graph", func(t *testing.T) {
		edges := diamond()
		edges[2].Graph = 2
		_, err := graph.Build(meta(1), edges, 0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestFirstQuestionWithoutEdges(t *testing.T) {
	g, err := graph.Build(meta(42), nil, 0)
	require.NoError(t, err)

	assert.True(t, g.Contains(42))
	assert.Equal(t, 1, g.Len())
	_, ok := g.NextQuestion(42, models.PayloadOf("x"))
	assert.False(t, ok)
	assert.Equal(t, []models.QuestionID{42}, g.Reachable())
}

func TestNextQuestion(t *testing.T) {
	g, err := graph.Build(meta(1), diamond(), 0)
	require.NoError(t, err)

	tests := []struct {
		name    string
		current models.QuestionID
		answer  models.Payload
		next    models.QuestionID
		ok      bool
	}{
		{"choice a", 1, models.PayloadOf("a"), 2, true},
		{"choice b", 1, models.PayloadOf("b"), 3, true},
		{"no matching choice and no default", 1, models.PayloadOf("c"), 0, false},
		{"missing answer only takes defaults", 1, nil, 0, false},
		{"default edge ignores the answer", 2, models.PayloadOf("anything"), 4, true},
		{"terminal question", 4, models.PayloadOf("y"), 0, false},
		{"unknown question", 77, models.PayloadOf("a"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := g.NextQuestion(tt.current, tt.answer)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.next, next)
		})
	}
}

func TestEdgeResolutionOrder(t *testing.T) {
	t.Run("default edge catches unmatched answers", func(t *testing.T) {
		g, err := graph.Build(meta(1), []models.Edge{
			choiceEdge(1, 1, 2, "a", 0),
			defaultEdge(2, 1, 3, 1),
		}, 0)
		require.NoError(t, err)

		next, ok := g.NextQuestion(1, models.PayloadOf("anything-else"))
		require.True(t, ok)
		assert.Equal(t, models.QuestionID(3), next)

		next, _ = g.NextQuestion(1, models.PayloadOf("a"))
		assert.Equal(t, models.QuestionID(2), next)
	})

	t.Run("default ordered first shadows the choice", func(t *testing.T) {
		g, err := graph.Build(meta(1), []models.Edge{
			choiceEdge(1, 1, 2, "a", 1),
			defaultEdge(2, 1, 3, 0),
		}, 0)
		require.NoError(t, err)

		next, _ := g.NextQuestion(1, models.PayloadOf("a"))
		assert.Equal(t, models.QuestionID(3), next)
	})

	t.Run("equal order falls back to edge id", func(t *testing.T) {
		g, err := graph.Build(meta(1), []models.Edge{
			defaultEdge(9, 1, 3, 0),
			defaultEdge(4, 1, 2, 0),
		}, 0)
		require.NoError(t, err)

		next, _ := g.NextQuestion(1, nil)
		assert.Equal(t, models.QuestionID(2), next)
	})
}

func TestReachabilityAndOrphans(t *testing.T) {
	edges := append(diamond(), defaultEdge(10, 8, 9, 0))
	g, err := graph.Build(meta(1), edges, 0)
	require.NoError(t, err)

	assert.Equal(t, []models.QuestionID{1, 2, 3, 4}, g.Reachable())
	assert.Equal(t, []models.QuestionID{8, 9}, g.Orphans())
	assert.Equal(t, []models.QuestionID{1, 2, 3, 4, 8, 9}, g.Questions())
}

func TestFindCycle(t *testing.T) {
	t.Run("acyclic diamond", func(t *testing.T) {
		g, err := graph.Build(meta(1), diamond(), 0)
		require.NoError(t, err)
		assert.Nil(t, g.FindCycle())
	})

	t.Run("reachable cycle", func(t *testing.T) {
		edges := append(diamond(), defaultEdge(5, 4, 2, 0))
		g, err := graph.Build(meta(1), edges, 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []models.QuestionID{2, 4}, g.FindCycle())
	})

	t.Run("unreachable cycle is ignored", func(t *testing.T) {
		edges := append(diamond(), defaultEdge(5, 8, 9, 0), defaultEdge(6, 9, 8, 0))
		g, err := graph.Build(meta(1), edges, 0)
		require.NoError(t, err)
		assert.Nil(t, g.FindCycle())
	})
}

func TestSnapshotRestore(t *testing.T) {
	g, err := graph.Build(meta(1), diamond(), 0)
	require.NoError(t, err)

	restored, err := graph.Restore(g.Snapshot())
	require.NoError(t, err)

	assert.Equal(t, g.Questions(), restored.Questions())
	next, _ := restored.NextQuestion(1, models.PayloadOf("b"))
	assert.Equal(t, models.QuestionID(3), next)
}

func TestLint(t *testing.T) {
	edges := []models.Edge{
		defaultEdge(1, 1, 3, 0),
		choiceEdge(2, 1, 2, "a", 1),
		choiceEdge(3, 2, 4, "x", 0),
		choiceEdge(4, 2, 5, "x", 1),
		defaultEdge(5, 4, 2, 0),
		defaultEdge(6, 8, 9, 0),
	}
	g, err := graph.Build(meta(1), edges, 0)
	require.NoError(t, err)

	issues := graph.Lint(g)
	kinds := make(map[graph.IssueKind][]graph.Issue)
	for _, issue := range issues {
		kinds[issue.Kind] = append(kinds[issue.Kind], issue)
	}

	require.Len(t, kinds[graph.IssueShadowedChoice], 1)
	assert.Equal(t, models.EdgeID(2), kinds[graph.IssueShadowedChoice][0].Edge)

	require.Len(t, kinds[graph.IssueDuplicateChoice], 1)
	assert.Equal(t, models.EdgeID(4), kinds[graph.IssueDuplicateChoice][0].Edge)

	// Cycle detection follows shadowed edges too.
	require.Len(t, kinds[graph.IssueCycle], 1)
	assert.ElementsMatch(t, []models.QuestionID{2, 4}, kinds[graph.IssueCycle][0].Questions)

	require.Len(t, kinds[graph.IssueOrphan], 2)
}

func TestDefaultsLast(t *testing.T) {
	assert.NoError(t, graph.DefaultsLast([]models.Edge{
		choiceEdge(1, 1, 2, "a", 0),
		defaultEdge(2, 1, 3, 1),
	}))
	assert.Error(t, graph.DefaultsLast([]models.Edge{
		choiceEdge(1, 1, 2, "a", 2),
		defaultEdge(2, 1, 3, 1),
	}))
}
