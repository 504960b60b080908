// Package graph holds the in-memory question graph and the service that loads,
// caches and administers it.
//
// A Graph is an adjacency list keyed by question id. Each arc carries the
// choice payload that selects it (nil for the default arc), its edge id and
// its order; arcs are kept sorted in resolution order so NextQuestion is a
// linear scan. Graphs are immutable after Build and safe to share.
package graph

import (
	"fmt"
	"sort"

	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
)

type arc struct {
	edge   models.EdgeID
	to     models.QuestionID
	choice models.Payload
	order  int
}

func (a arc) matches(answer models.Payload) bool {
	if a.choice == nil {
		return true
	}
	if answer.IsNull() {
		return false
	}
	return a.choice.Equal(answer)
}

// Graph is a loaded question graph.
type Graph struct {
	meta      models.QuestionGraph
	first     models.QuestionID
	nodes     map[models.QuestionID]struct{}
	adjacency map[models.QuestionID][]arc
	edges     []models.Edge
}

// Build constructs a Graph from its edges, failing with graph_too_large as
// soon as the distinct question count exceeds maxQuestions. A non-positive
// maxQuestions uses models.MaxQuestions.
func Build(meta models.QuestionGraph, edges []models.Edge, maxQuestions int) (*Graph, error) {
	if maxQuestions <= 0 {
		maxQuestions = models.MaxQuestions
	}
	return build(meta, edges, maxQuestions)
}

// build with limit 0 skips the size check; it restores graphs that already
// passed it once.
func build(meta models.QuestionGraph, edges []models.Edge, limit int) (*Graph, error) {
	if meta.FirstQuestion == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("graph %d has no first question", meta.ID))
	}

	g := &Graph{
		meta:      meta,
		first:     *meta.FirstQuestion,
		nodes:     make(map[models.QuestionID]struct{}),
		adjacency: make(map[models.QuestionID][]arc),
		edges:     make([]models.Edge, 0, len(edges)),
	}

	addNode := func(q models.QuestionID) error {
		if _, ok := g.nodes[q]; ok {
			return nil
		}
		g.nodes[q] = struct{}{}
		if limit > 0 && len(g.nodes) > limit {
			return dErrors.New(dErrors.CodeGraphTooLarge,
				fmt.Sprintf("graph %d has more than %d questions", meta.ID, limit))
		}
		return nil
	}

	for _, e := range edges {
		if e.Graph != meta.ID {
			return nil, dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("edge %d belongs to graph %d, not %d", e.ID, e.Graph, meta.ID))
		}
		if err := addNode(e.Question); err != nil {
			return nil, err
		}
		if err := addNode(e.NextQuestion); err != nil {
			return nil, err
		}
		a := arc{edge: e.ID, to: e.NextQuestion, order: e.Order}
		if e.Choice != nil {
			a.choice = e.Choice.Payload
		}
		g.adjacency[e.Question] = append(g.adjacency[e.Question], a)
		g.edges = append(g.edges, e)
	}
	// The first question may have no edges at all.
	if err := addNode(g.first); err != nil {
		return nil, err
	}

	for q := range g.adjacency {
		arcs := g.adjacency[q]
		sort.SliceStable(arcs, func(i, j int) bool {
			if arcs[i].order != arcs[j].order {
				return arcs[i].order < arcs[j].order
			}
			return arcs[i].edge < arcs[j].edge
		})
	}
	models.SortEdges(g.edges)
	return g, nil
}

func (g *Graph) ID() models.GraphID { return g.meta.ID }

func (g *Graph) Meta() models.QuestionGraph { return g.meta }

func (g *Graph) First() models.QuestionID { return g.first }

// Len is the distinct question count.
func (g *Graph) Len() int { return len(g.nodes) }

// Contains reports whether q is a node of the graph.
func (g *Graph) Contains(q models.QuestionID) bool {
	_, ok := g.nodes[q]
	return ok
}

// HasOutgoing reports whether q has at least one outgoing edge.
func (g *Graph) HasOutgoing(q models.QuestionID) bool {
	return len(g.adjacency[q]) > 0
}

// NextQuestion resolves the transition out of current for the given answer:
// the first arc in (order, edge id) order whose choice is nil or equals the
// answer wins. ok is false when no arc matches.
func (g *Graph) NextQuestion(current models.QuestionID, answer models.Payload) (next models.QuestionID, ok bool) {
	for _, a := range g.adjacency[current] {
		if a.matches(answer) {
			return a.to, true
		}
	}
	return 0, false
}

// Questions lists every node in ascending id order.
func (g *Graph) Questions() []models.QuestionID {
	ids := make([]models.QuestionID, 0, len(g.nodes))
	for q := range g.nodes {
		ids = append(ids, q)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Edges returns a copy of the graph's edges in resolution order.
func (g *Graph) Edges() []models.Edge {
	out := make([]models.Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Reachable returns every question reachable from the first question by
// forward traversal, in breadth-first order following arc order.
func (g *Graph) Reachable() []models.QuestionID {
	seen := map[models.QuestionID]bool{g.first: true}
	order := []models.QuestionID{g.first}
	for i := 0; i < len(order); i++ {
		for _, a := range g.adjacency[order[i]] {
			if !seen[a.to] {
				seen[a.to] = true
				order = append(order, a.to)
			}
		}
	}
	return order
}

// Orphans lists nodes that cannot be reached from the first question, in
// ascending id order.
func (g *Graph) Orphans() []models.QuestionID {
	reachable := make(map[models.QuestionID]bool, len(g.nodes))
	for _, q := range g.Reachable() {
		reachable[q] = true
	}
	var orphans []models.QuestionID
	for _, q := range g.Questions() {
		if !reachable[q] {
			orphans = append(orphans, q)
		}
	}
	return orphans
}

// FindCycle returns one cycle reachable from the first question as the
// sequence of questions on it, or nil when the reachable part is acyclic.
func (g *Graph) FindCycle() []models.QuestionID {
	const (
		white = iota
		grey
		black
	)
	color := make(map[models.QuestionID]int, len(g.nodes))
	var stack []models.QuestionID

	var visit func(q models.QuestionID) []models.QuestionID
	visit = func(q models.QuestionID) []models.QuestionID {
		color[q] = grey
		stack = append(stack, q)
		for _, a := range g.adjacency[q] {
			switch color[a.to] {
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == a.to {
						return append([]models.QuestionID(nil), stack[i:]...)
					}
				}
			case white:
				if cycle := visit(a.to); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[q] = black
		return nil
	}
	return visit(g.first)
}

// Snapshot is the serializable form of a graph used by shared caches.
type Snapshot struct {
	Graph models.QuestionGraph `json:"graph"`
	Edges []models.Edge        `json:"edges"`
}

func (g *Graph) Snapshot() Snapshot {
	return Snapshot{Graph: g.meta, Edges: g.Edges()}
}

// Restore rebuilds a graph from a snapshot without re-applying the size limit.
func Restore(s Snapshot) (*Graph, error) {
	return build(s.Graph, s.Edges, 0)
}
