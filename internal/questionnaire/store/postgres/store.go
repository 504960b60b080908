// Package postgres persists questionnaire configuration and sessions in
// PostgreSQL. Like the memory store it reports store facts with sentinel
// errors; one-way session transitions are conditional updates, so concurrent
// writers cannot both win.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"signals/internal/questionnaire/models"
	"signals/pkg/platform/sentinel"
	txcontext "signals/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// Store runs its statements on the transaction it was bound to with WithTx,
// on a transaction carried by ctx, or on the pool.
type Store struct {
	db *sql.DB
	tx *sql.Tx
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store whose statements run in tx.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: s.db, tx: tx}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate questionnaire schema: %w", err)
	}
	return nil
}

func (s *Store) conn(ctx context.Context) txcontext.Querier {
	if s.tx != nil {
		return s.tx
	}
	return txcontext.Conn(ctx, s.db)
}

// inTx runs fn in the bound transaction, or in a new one.
func (s *Store) inTx(ctx context.Context, fn func(q txcontext.Querier) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	if tx, ok := txcontext.From(ctx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// translate maps constraint violations to sentinel errors.
func translate(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %s: %w", what, pgErr.ConstraintName, sentinel.ErrNotFound)
		case pgUniqueViolation:
			return fmt.Errorf("%s: %s: %w", what, pgErr.ConstraintName, sentinel.ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// CreateQuestion inserts the question and its choices, assigning their ids.
func (s *Store) CreateQuestion(ctx context.Context, q *models.Question) error {
	return s.inTx(ctx, func(conn txcontext.Querier) error {
		q.CreatedAt = createdAt(q.CreatedAt)
		err := conn.QueryRowContext(ctx, `
			INSERT INTO questions (analysis_key, label, short_label, field_type, required, enforce_choices, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, q.AnalysisKey, q.Label, q.ShortLabel, string(q.FieldType), q.Required, q.EnforceChoices, q.CreatedAt).Scan(&q.ID)
		if err != nil {
			return translate(err, "create question")
		}
		for i := range q.Choices {
			c := &q.Choices[i]
			c.Question = q.ID
			err := conn.QueryRowContext(ctx, `
				INSERT INTO choices (question_id, payload, display)
				VALUES ($1, $2, $3)
				RETURNING id
			`, q.ID, string(c.Payload), c.Display).Scan(&c.ID)
			if err != nil {
				return translate(err, "create choice")
			}
		}
		return nil
	})
}

func (s *Store) CreateGraph(ctx context.Context, g *models.QuestionGraph) error {
	g.CreatedAt = createdAt(g.CreatedAt)
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO question_graphs (name, first_question_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, g.Name, nullQuestionID(g.FirstQuestion), g.CreatedAt).Scan(&g.ID)
	if err != nil {
		return translate(err, "create graph")
	}
	return nil
}

func (s *Store) CreateEdge(ctx context.Context, e *models.Edge) error {
	var choiceID sql.NullInt64
	if e.Choice != nil {
		choiceID = sql.NullInt64{Int64: int64(e.Choice.ID), Valid: true}
	}
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO edges (graph_id, question_id, next_question_id, choice_id, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, e.Graph, e.Question, e.NextQuestion, choiceID, e.Order).Scan(&e.ID)
	if err != nil {
		return translate(err, "create edge")
	}
	return nil
}

func (s *Store) CreateQuestionnaire(ctx context.Context, q *models.Questionnaire) error {
	q.CreatedAt = createdAt(q.CreatedAt)
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO questionnaires (graph_id, flow, name, description, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, q.Graph, string(q.Flow), q.Name, q.Description, q.IsActive, q.CreatedAt).Scan(&q.ID)
	if err != nil {
		return translate(err, "create questionnaire")
	}
	return nil
}

func (s *Store) FindGraph(ctx context.Context, id models.GraphID) (*models.QuestionGraph, error) {
	var (
		g     models.QuestionGraph
		first sql.NullInt64
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, first_question_id, created_at
		FROM question_graphs
		WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &first, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("graph %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find graph: %w", err)
	}
	if first.Valid {
		q := models.QuestionID(first.Int64)
		g.FirstQuestion = &q
	}
	return &g, nil
}

// ListEdges returns the graph's edges with their choices, by order then id.
func (s *Store) ListEdges(ctx context.Context, id models.GraphID) ([]models.Edge, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT e.id, e.graph_id, e.question_id, e.next_question_id, e.sort_order,
		       c.id, c.question_id, c.payload, c.display
		FROM edges e
		LEFT JOIN choices c ON c.id = e.choice_id
		WHERE e.graph_id = $1
		ORDER BY e.sort_order, e.id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	edges := []models.Edge{}
	for rows.Next() {
		var (
			e        models.Edge
			choiceID sql.NullInt64
			choiceQ  sql.NullInt64
			payload  []byte
			display  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Graph, &e.Question, &e.NextQuestion, &e.Order,
			&choiceID, &choiceQ, &payload, &display); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		if choiceID.Valid {
			e.Choice = &models.Choice{
				ID:       models.ChoiceID(choiceID.Int64),
				Question: models.QuestionID(choiceQ.Int64),
				Payload:  models.Payload(payload),
				Display:  display.String,
			}
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	models.SortEdges(edges)
	return edges, nil
}

// UpdateEdgeOrders applies all orders or none; an edge outside the graph
// fails with ErrNotFound.
func (s *Store) UpdateEdgeOrders(ctx context.Context, id models.GraphID, orders map[models.EdgeID]int) error {
	return s.inTx(ctx, func(conn txcontext.Querier) error {
		for edge, order := range orders {
			res, err := conn.ExecContext(ctx, `
				UPDATE edges SET sort_order = $3
				WHERE id = $1 AND graph_id = $2
			`, edge, id, order)
			if err != nil {
				return fmt.Errorf("update edge order: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("update edge order rows affected: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("edge %d of graph %d: %w", edge, id, sentinel.ErrNotFound)
			}
		}
		return nil
	})
}

func (s *Store) FindQuestionnaire(ctx context.Context, id models.QuestionnaireID) (*models.Questionnaire, error) {
	var (
		q    models.Questionnaire
		flow string
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, graph_id, flow, name, description, is_active, created_at
		FROM questionnaires
		WHERE id = $1
	`, id).Scan(&q.ID, &q.Graph, &flow, &q.Name, &q.Description, &q.IsActive, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("questionnaire %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find questionnaire: %w", err)
	}
	q.Flow = models.Flow(flow)
	return &q, nil
}

// FindQuestions loads the requested questions and their choices in two
// round trips; missing ids are left out of the result.
func (s *Store) FindQuestions(ctx context.Context, ids []models.QuestionID) (map[models.QuestionID]models.Question, error) {
	out := make(map[models.QuestionID]models.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	conn := s.conn(ctx)

	rows, err := conn.QueryContext(ctx, `
		SELECT id, analysis_key, label, short_label, field_type, required, enforce_choices, created_at
		FROM questions
		WHERE id = ANY($1::bigint[])
	`, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("find questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			q         models.Question
			fieldType string
		)
		if err := rows.Scan(&q.ID, &q.AnalysisKey, &q.Label, &q.ShortLabel, &fieldType,
			&q.Required, &q.EnforceChoices, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.FieldType = models.FieldType(fieldType)
		out[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}

	choiceRows, err := conn.QueryContext(ctx, `
		SELECT id, question_id, payload, display
		FROM choices
		WHERE question_id = ANY($1::bigint[])
		ORDER BY id
	`, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("find choices: %w", err)
	}
	defer choiceRows.Close()
	for choiceRows.Next() {
		var (
			c       models.Choice
			payload []byte
		)
		if err := choiceRows.Scan(&c.ID, &c.Question, &payload, &c.Display); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		c.Payload = models.Payload(payload)
		q := out[c.Question]
		q.Choices = append(q.Choices, c)
		out[c.Question] = q
	}
	if err := choiceRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate choices: %w", err)
	}
	return out, nil
}

func nullQuestionID(id *models.QuestionID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}
