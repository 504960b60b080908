package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"signals/internal/questionnaire/metrics"
	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
	"signals/pkg/platform/audit"
	"signals/pkg/platform/sentinel"
)

var tracer = otel.Tracer("signals.questionnaire.graph")

// Store provides the graph configuration. It returns sentinel.ErrNotFound for
// unknown graphs.
type Store interface {
	FindGraph(ctx context.Context, id models.GraphID) (*models.QuestionGraph, error)
	ListEdges(ctx context.Context, id models.GraphID) ([]models.Edge, error)
	UpdateEdgeOrders(ctx context.Context, id models.GraphID, orders map[models.EdgeID]int) error
}

// AuditPublisher records administrative changes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// EdgeOrder assigns a new order to one edge.
type EdgeOrder struct {
	Edge  models.EdgeID `json:"edge_id"`
	Order int           `json:"order"`
}

// Report is the administrative view of a graph's reachability.
type Report struct {
	Graph     models.GraphID      `json:"graph_id"`
	First     models.QuestionID   `json:"first_question_id"`
	Questions []models.QuestionID `json:"questions"`
	Reachable []models.QuestionID `json:"reachable"`
	Orphans   []models.QuestionID `json:"orphans"`
}

// Service loads graphs into memory, caches them per graph id and applies
// administrative edge reordering.
type Service struct {
	store        Store
	cache        Cache
	maxQuestions int
	strictOrder  bool
	logger       *slog.Logger
	metrics      *metrics.Metrics
	auditor      AuditPublisher
	loads        singleflight.Group

	// versions counts invalidations per graph. A build that saw an older
	// version does not write its result to the cache.
	mu       sync.Mutex
	versions map[models.GraphID]uint64
}

type Option func(*Service)

func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithMaxQuestions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxQuestions = n
		}
	}
}

// WithStrictEdgeOrder rejects reorderings that put a default edge before a
// choice edge of the same question.
func WithStrictEdgeOrder(strict bool) Option {
	return func(s *Service) {
		s.strictOrder = strict
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

// NewService constructs a graph service. Without WithCache it caches in
// process memory without expiry.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		maxQuestions: models.MaxQuestions,
		logger:       slog.Default(),
		versions:     make(map[models.GraphID]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewMemoryCache(0)
	}
	return s
}

// Load returns the graph for id, building it from the store on a cache miss.
// Concurrent misses for the same graph share one store round trip.
func (s *Service) Load(ctx context.Context, id models.GraphID) (*Graph, error) {
	ctx, span := tracer.Start(ctx, "graph.Load")
	defer span.End()
	span.SetAttributes(attribute.Int64("graph.id", int64(id)))
	start := time.Now()

	cached, err := s.cache.Get(ctx, id)
	if err == nil {
		s.metrics.ObserveGraphLoad(start, true)
		span.SetAttributes(attribute.Bool("graph.cached", true))
		return cached, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "graph cache lookup failed",
			"graph_id", id,
			"error", err,
		)
	}

	// Shared by every waiter; one caller cancelling must not fail the rest.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(strconv.FormatInt(int64(id), 10), func() (any, error) {
		return s.build(shared, id)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.metrics.ObserveGraphLoad(start, false)
	return v.(*Graph), nil
}

func (s *Service) build(ctx context.Context, id models.GraphID) (*Graph, error) {
	version := s.version(id)
	meta, err := s.store.FindGraph(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("graph %d not found", id))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load graph")
	}
	edges, err := s.store.ListEdges(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load graph edges")
	}

	g, err := Build(*meta, edges, s.maxQuestions)
	if err != nil {
		s.logger.ErrorContext(ctx, "graph configuration rejected",
			"graph_id", id,
			"edges", len(edges),
			"error", err,
		)
		return nil, err
	}

	s.cacheIfCurrent(ctx, g, version)
	return g, nil
}

func (s *Service) version(id models.GraphID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[id]
}

// cacheIfCurrent stores g unless the graph was invalidated while it was
// being built. The lock is held across Set so an Invalidate either happens
// before the check or deletes the entry after it is written.
func (s *Service) cacheIfCurrent(ctx context.Context, g *Graph, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions[g.ID()] != version {
		s.logger.DebugContext(ctx, "graph changed during load, not caching",
			"graph_id", g.ID(),
		)
		return
	}
	if err := s.cache.Set(ctx, g); err != nil {
		s.logger.WarnContext(ctx, "failed to cache graph",
			"graph_id", g.ID(),
			"error", err,
		)
	}
}

// Invalidate drops the cached graph so the next Load rebuilds it. Loads
// already in flight still return what they read but do not cache it.
func (s *Service) Invalidate(ctx context.Context, id models.GraphID) error {
	s.mu.Lock()
	s.versions[id]++
	s.mu.Unlock()
	s.loads.Forget(strconv.FormatInt(int64(id), 10))
	if err := s.cache.Delete(ctx, id); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to invalidate graph cache")
	}
	return nil
}

// ReorderEdges changes the order of some of a graph's edges and invalidates
// the cached graph.
func (s *Service) ReorderEdges(ctx context.Context, id models.GraphID, orders []EdgeOrder) error {
	if len(orders) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one edge order is required")
	}
	if _, err := s.store.FindGraph(ctx, id); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("graph %d not found", id))
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load graph")
	}
	edges, err := s.store.ListEdges(ctx, id)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load graph edges")
	}

	index := make(map[models.EdgeID]int, len(edges))
	for i, e := range edges {
		index[e.ID] = i
	}
	updates := make(map[models.EdgeID]int, len(orders))
	for _, o := range orders {
		i, ok := index[o.Edge]
		if !ok {
			return dErrors.NewField(dErrors.CodeValidation, "edge_id",
				fmt.Sprintf("edge %d does not belong to graph %d", o.Edge, id))
		}
		if _, dup := updates[o.Edge]; dup {
			return dErrors.NewField(dErrors.CodeValidation, "edge_id",
				fmt.Sprintf("edge %d is listed more than once", o.Edge))
		}
		updates[o.Edge] = o.Order
		edges[i].Order = o.Order
	}

	if s.strictOrder {
		if err := DefaultsLast(edges); err != nil {
			return dErrors.New(dErrors.CodeValidation, err.Error())
		}
	}

	if err := s.store.UpdateEdgeOrders(ctx, id, updates); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeConflict, "graph edges changed concurrently")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reorder edges")
	}
	s.logger.InfoContext(ctx, "graph edges reordered",
		"graph_id", id,
		"edges", len(updates),
	)
	if s.auditor != nil {
		if err := s.auditor.Emit(ctx, audit.Event{
			Subject: "graph:" + id.String(),
			Action:  string(audit.EventEdgesReordered),
			Reason:  fmt.Sprintf("%d edges reordered", len(updates)),
		}); err != nil {
			s.logger.WarnContext(ctx, "audit emit failed", "graph_id", id, "error", err)
		}
	}
	return s.Invalidate(ctx, id)
}

// Reachability reports the questions reachable from the first question and
// the orphans that are not.
func (s *Service) Reachability(ctx context.Context, id models.GraphID) (*Report, error) {
	g, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Report{
		Graph:     g.ID(),
		First:     g.First(),
		Questions: g.Questions(),
		Reachable: g.Reachable(),
		Orphans:   g.Orphans(),
	}, nil
}

// Lint loads the graph and reports authoring issues.
func (s *Service) Lint(ctx context.Context, id models.GraphID) ([]Issue, error) {
	g, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return Lint(g), nil
}
