package graph_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"signals/internal/questionnaire/graph"
	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
	"signals/pkg/platform/audit"
	"signals/pkg/platform/sentinel"
)

// countingStore serves one graph and counts edge loads. When block is set,
// the next ListEdges reads the edges, signals blocked and waits for block to
// close or ctx to end.
type countingStore struct {
	mu        sync.Mutex
	meta      models.QuestionGraph
	edges     []models.Edge
	loads     int
	updateErr error
	block     chan struct{}
	blocked   chan struct{}
}

func (s *countingStore) FindGraph(_ context.Context, id models.GraphID) (*models.QuestionGraph, error) {
	if id != s.meta.ID {
		return nil, fmt.Errorf("graph %d: %w", id, sentinel.ErrNotFound)
	}
	m := s.meta
	return &m, nil
}

func (s *countingStore) ListEdges(ctx context.Context, _ models.GraphID) ([]models.Edge, error) {
	s.mu.Lock()
	s.loads++
	out := append([]models.Edge(nil), s.edges...)
	block := s.block
	s.block = nil
	s.mu.Unlock()
	models.SortEdges(out)

	if block != nil {
		close(s.blocked)
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// holdNextLoad makes the next ListEdges wait until the returned func is called.
func (s *countingStore) holdNextLoad() (blocked <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = make(chan struct{})
	s.blocked = make(chan struct{})
	block := s.block
	return s.blocked, func() { close(block) }
}

func (s *countingStore) UpdateEdgeOrders(_ context.Context, _ models.GraphID, orders map[models.EdgeID]int) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.edges {
		if order, ok := orders[s.edges[i].ID]; ok {
			s.edges[i].Order = order
		}
	}
	return nil
}

func (s *countingStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

type recordingAuditor struct {
	events []audit.Event
}

func (r *recordingAuditor) Emit(_ context.Context, e audit.Event) error {
	r.events = append(r.events, e)
	return nil
}

type GraphServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *countingStore
	auditor *recordingAuditor
}

func TestGraphServiceSuite(t *testing.T) {
	suite.Run(t, new(GraphServiceSuite))
}

// SetupTest serves 1 -a-> 2, 1 -> 3 (default), 2 -> 3.
func (s *GraphServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &countingStore{
		meta: meta(1),
		edges: []models.Edge{
			choiceEdge(1, 1, 2, "a", 0),
			defaultEdge(2, 1, 3, 1),
			defaultEdge(3, 2, 3, 0),
		},
	}
	s.auditor = &recordingAuditor{}
}

func (s *GraphServiceSuite) newService(opts ...graph.Option) *graph.Service {
	opts = append([]graph.Option{graph.WithAuditPublisher(s.auditor)}, opts...)
	return graph.NewService(s.store, opts...)
}

func (s *GraphServiceSuite) TestLoadServesFromCache() {
	svc := s.newService()

	first, err := svc.Load(s.ctx, testGraph)
	s.Require().NoError(err)
	second, err := svc.Load(s.ctx, testGraph)
	s.Require().NoError(err)

	s.Same(first, second)
	s.Equal(1, s.store.loadCount())
}

func (s *GraphServiceSuite) TestLoadUnknownGraph() {
	_, err := s.newService().Load(s.ctx, 99)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *GraphServiceSuite) TestCyclesLoadAndLint() {
	s.store.edges = append(s.store.edges, defaultEdge(4, 3, 1, 0))

	issues, err := s.newService().Lint(s.ctx, testGraph)
	s.Require().NoError(err)
	s.Require().Len(issues, 1)
	s.Equal(graph.IssueCycle, issues[0].Kind)
}

func (s *GraphServiceSuite) TestLoadEnforcesQuestionCeiling() {
	svc := s.newService(graph.WithMaxQuestions(2))

	_, err := svc.Load(s.ctx, testGraph)
	s.True(dErrors.HasCode(err, dErrors.CodeGraphTooLarge))

	// Rejected graphs are not cached.
	_, _ = svc.Load(s.ctx, testGraph)
	s.Equal(2, s.store.loadCount())
}

func (s *GraphServiceSuite) TestReorderInvalidatesCachedGraph() {
	svc := s.newService()
	g, err := svc.Load(s.ctx, testGraph)
	s.Require().NoError(err)
	next, _ := g.NextQuestion(1, models.PayloadOf("a"))
	s.Equal(models.QuestionID(2), next)

	err = svc.ReorderEdges(s.ctx, testGraph, []graph.EdgeOrder{{Edge: 2, Order: -1}})
	s.Require().NoError(err)

	g, err = svc.Load(s.ctx, testGraph)
	s.Require().NoError(err)
	next, _ = g.NextQuestion(1, models.PayloadOf("a"))
	s.Equal(models.QuestionID(3), next, "default edge now sorts first")
	s.Equal(2, s.store.loadCount())

	issues, err := svc.Lint(s.ctx, testGraph)
	s.Require().NoError(err)
	s.Require().Len(issues, 1)
	s.Equal(graph.IssueShadowedChoice, issues[0].Kind)

	s.Require().Len(s.auditor.events, 1)
	s.Equal("graph:1", s.auditor.events[0].Subject)
	s.Equal(string(audit.EventEdgesReordered), s.auditor.events[0].Action)
}

func (s *GraphServiceSuite) TestReorderDuringLoadIsNotCachedOver() {
	svc := s.newService()
	blocked, release := s.store.holdNextLoad()

	loaded := make(chan *graph.Graph, 1)
	go func() {
		g, err := svc.Load(s.ctx, testGraph)
		s.NoError(err)
		loaded <- g
	}()
	<-blocked

	s.Require().NoError(svc.ReorderEdges(s.ctx, testGraph, []graph.EdgeOrder{{Edge: 2, Order: -1}}))
	release()

	stale := <-loaded
	s.Require().NotNil(stale)
	next, _ := stale.NextQuestion(1, models.PayloadOf("a"))
	s.Equal(models.QuestionID(2), next, "the in-flight load read the old order")

	g, err := svc.Load(s.ctx, testGraph)
	s.Require().NoError(err)
	next, _ = g.NextQuestion(1, models.PayloadOf("a"))
	s.Equal(models.QuestionID(3), next)
	s.NotSame(stale, g)
}

func (s *GraphServiceSuite) TestLoadSurvivesCallerCancellation() {
	svc := s.newService()
	blocked, release := s.store.holdNextLoad()

	ctx, cancel := context.WithCancel(s.ctx)
	errs := make(chan error, 1)
	go func() {
		_, err := svc.Load(ctx, testGraph)
		errs <- err
	}()
	<-blocked
	cancel()
	release()

	s.NoError(<-errs)
	_, err := svc.Load(s.ctx, testGraph)
	s.Require().NoError(err)
	s.Equal(1, s.store.loadCount(), "the finished build was cached")
}

func (s *GraphServiceSuite) TestStrictOrderRejectsShadowingDefaults() {
	svc := s.newService(graph.WithStrictEdgeOrder(true))

	err := svc.ReorderEdges(s.ctx, testGraph, []graph.EdgeOrder{{Edge: 2, Order: -1}})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal(1, s.store.edges[1].Order)
	s.Empty(s.auditor.events)
}

func (s *GraphServiceSuite) TestReorderValidation() {
	svc := s.newService()

	s.Run("empty request", func() {
		err := svc.ReorderEdges(s.ctx, testGraph, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("edge of another graph", func() {
		err := svc.ReorderEdges(s.ctx, testGraph, []graph.EdgeOrder{{Edge: 42, Order: 1}})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("edge listed twice", func() {
		err := svc.ReorderEdges(s.ctx, testGraph, []graph.EdgeOrder{{Edge: 1, Order: 1}, {Edge: 1, Order: 2}})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("unknown graph", func() {
		err := svc.ReorderEdges(s.ctx, 99, []graph.EdgeOrder{{Edge: 1, Order: 1}})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
	s.Run("edges removed concurrently", func() {
		s.store.updateErr = sentinel.ErrNotFound
		defer func() { s.store.updateErr = nil }()
		err := svc.ReorderEdges(s.ctx, testGraph, []graph.EdgeOrder{{Edge: 1, Order: 1}})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *GraphServiceSuite) TestReachabilityReport() {
	s.store.edges = append(s.store.edges, defaultEdge(4, 5, 3, 0))

	report, err := s.newService().Reachability(s.ctx, testGraph)
	s.Require().NoError(err)

	s.Equal(testGraph, report.Graph)
	s.Equal(models.QuestionID(1), report.First)
	s.ElementsMatch([]models.QuestionID{1, 2, 3}, report.Reachable)
	s.Equal([]models.QuestionID{5}, report.Orphans)
}

func (s *GraphServiceSuite) TestMemoryCache() {
	cache := graph.NewMemoryCache(0)
	_, err := cache.Get(s.ctx, testGraph)
	s.ErrorIs(err, sentinel.ErrNotFound)

	g, err := graph.Build(s.store.meta, s.store.edges, 0)
	s.Require().NoError(err)
	s.Require().NoError(cache.Set(s.ctx, g))
	cached, err := cache.Get(s.ctx, testGraph)
	s.Require().NoError(err)
	s.Same(g, cached)

	s.Require().NoError(cache.Delete(s.ctx, testGraph))
	_, err = cache.Get(s.ctx, testGraph)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
