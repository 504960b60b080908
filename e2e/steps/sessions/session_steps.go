package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	Admin(method, path string, body any) error
	GetLastStatus() int
	GetResponseField(field string) (any, error)
	LastBody() []byte
	Save(key, value string)
	Saved(key string) string
}

// RegisterSteps registers session lifecycle steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &sessionSteps{tc: tc}

	ctx.Step(`^I start a "([^"]*)" session for incident (\d+)$`, steps.startSession)
	ctx.Step(`^I start a "([^"]*)" session for incident (\d+) asking "([^"]*)"$`, steps.startSessionAsking)
	ctx.Step(`^I answer the next question with (.+)$`, steps.answerNextQuestion)
	ctx.Step(`^I answer the first question again with (.+)$`, steps.answerFirstQuestion)
	ctx.Step(`^I submit the session$`, steps.submitSession)
	ctx.Step(`^I fetch the session$`, steps.fetchSession)
	ctx.Step(`^the session state should be "([^"]*)"$`, steps.sessionStateShouldBe)
	ctx.Step(`^I run the expiry sweep for "([^"]*)"$`, steps.runSweep)
	ctx.Step(`^I run the expiry sweep for "([^"]*)" without the admin token$`, steps.runSweepWithoutToken)
	ctx.Step(`^the audit trail of the session should contain "([^"]*)"$`, steps.auditTrailShouldContain)
}

type sessionSteps struct {
	tc TestContext
}

func (s *sessionSteps) startSession(ctx context.Context, flow string, incident int) error {
	return s.start(flow, incident, nil)
}

func (s *sessionSteps) startSessionAsking(ctx context.Context, flow string, incident int, question string) error {
	return s.start(flow, incident, map[string]string{"question": question})
}

func (s *sessionSteps) start(flow string, incident int, params map[string]string) error {
	body := map[string]any{"flow": flow, "incident_id": incident}
	if params != nil {
		body["params"] = params
	}
	if err := s.tc.POST("/sessions", body); err != nil {
		return err
	}
	if s.tc.GetLastStatus() != http.StatusCreated {
		return fmt.Errorf("start session: status %d", s.tc.GetLastStatus())
	}
	id, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save("session_id", fmt.Sprint(id))
	return nil
}

func (s *sessionSteps) answerNextQuestion(ctx context.Context, payload string) error {
	if err := s.fetchSession(ctx); err != nil {
		return err
	}
	next, err := s.tc.GetResponseField("next_question")
	if err != nil {
		return fmt.Errorf("session has no next question: %w", err)
	}
	if s.tc.Saved("first_question") == "" {
		s.tc.Save("first_question", jsonNumber(next))
	}
	return s.answer(jsonNumber(next), payload)
}

func (s *sessionSteps) answerFirstQuestion(ctx context.Context, payload string) error {
	first := s.tc.Saved("first_question")
	if first == "" {
		return fmt.Errorf("no question answered yet")
	}
	return s.answer(first, payload)
}

func (s *sessionSteps) answer(question, payload string) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload %s is not JSON", payload)
	}
	return s.tc.POST("/answers", map[string]any{
		"session_id":  s.tc.Saved("session_id"),
		"question_id": json.RawMessage(question),
		"payload":     json.RawMessage(payload),
	})
}

func (s *sessionSteps) submitSession(ctx context.Context) error {
	return s.tc.POST("/sessions/"+s.tc.Saved("session_id")+"/submit", nil)
}

func (s *sessionSteps) fetchSession(ctx context.Context) error {
	return s.tc.GET("/sessions/"+s.tc.Saved("session_id"), nil)
}

func (s *sessionSteps) sessionStateShouldBe(ctx context.Context, state string) error {
	if err := s.fetchSession(ctx); err != nil {
		return err
	}
	got, err := s.tc.GetResponseField("state")
	if err != nil {
		return err
	}
	if got != state {
		return fmt.Errorf("expected state %q, got %v", state, got)
	}
	return nil
}

func (s *sessionSteps) runSweep(ctx context.Context, flow string) error {
	return s.tc.Admin(http.MethodPost, "/admin/flows/"+flow+"/cleanup", nil)
}

func (s *sessionSteps) runSweepWithoutToken(ctx context.Context, flow string) error {
	return s.tc.POST("/admin/flows/"+flow+"/cleanup", nil)
}

func (s *sessionSteps) auditTrailShouldContain(ctx context.Context, action string) error {
	if err := s.tc.Admin(http.MethodGet, "/admin/audit?subject="+s.tc.Saved("session_id"), nil); err != nil {
		return err
	}
	return s.expectAuditAction(action)
}

func (s *sessionSteps) expectAuditAction(action string) error {
	if s.tc.GetLastStatus() != http.StatusOK {
		return fmt.Errorf("list audit: status %d", s.tc.GetLastStatus())
	}
	events, err := s.auditEvents()
	if err != nil {
		return err
	}
	for _, e := range events {
		if e.Action == action {
			return nil
		}
	}
	return fmt.Errorf("audit trail has no %q event", action)
}

type auditEvent struct {
	Action string `json:"action"`
}

func (s *sessionSteps) auditEvents() ([]auditEvent, error) {
	var events []auditEvent
	if err := json.Unmarshal(s.tc.LastBody(), &events); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}
	return events, nil
}

// jsonNumber renders a decoded JSON number back to its literal.
func jsonNumber(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
