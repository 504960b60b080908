package models

import (
	"time"

	dErrors "signals/pkg/domain-errors"
)

// AnswerRequest stores one answer. Without SessionID a new session is
// created for QuestionnaireID.
type AnswerRequest struct {
	SessionID       *SessionID      `json:"session_id,omitempty"`
	QuestionnaireID QuestionnaireID `json:"questionnaire_id,omitempty"`
	QuestionID      QuestionID      `json:"question_id"`
	Payload         Payload         `json:"payload"`
}

// Normalize treats a missing payload as an explicit null.
func (r *AnswerRequest) Normalize() {
	if len(r.Payload) == 0 {
		r.Payload = Payload("null")
	}
}

func (r *AnswerRequest) Validate() error {
	if r.SessionID == nil && r.QuestionnaireID <= 0 {
		return dErrors.NewField(dErrors.CodeValidation, "session_id", "session_id or questionnaire_id is required")
	}
	if r.SessionID != nil && r.SessionID.IsNil() {
		return dErrors.NewField(dErrors.CodeValidation, "session_id", "session_id is invalid")
	}
	if r.QuestionID <= 0 {
		return dErrors.NewField(dErrors.CodeValidation, "question_id", "question_id is required")
	}
	return nil
}

// AnswerResult is returned for an accepted answer. NextQuestion is where the
// answered question's edges lead for this payload; nil means the walk ends
// there.
type AnswerResult struct {
	AnswerID     AnswerID    `json:"answer_id"`
	SessionID    SessionID   `json:"session_id"`
	NextQuestion *QuestionID `json:"next_question,omitempty"`
	CanFreeze    bool        `json:"can_freeze"`
}

// StartSessionRequest opens a session for a flow, materializing the flow's
// graph with Params filled into its labels.
type StartSessionRequest struct {
	Flow     Flow              `json:"flow"`
	Incident *IncidentID       `json:"incident_id,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

func (r *StartSessionRequest) Validate() error {
	if !r.Flow.IsValid() {
		return dErrors.NewField(dErrors.CodeValidation, "flow", "unknown flow")
	}
	return nil
}

// QuestionView is one question on a session's path with its latest answer.
type QuestionView struct {
	ID          QuestionID `json:"id"`
	AnalysisKey string     `json:"analysis_key"`
	Label       string     `json:"label"`
	ShortLabel  string     `json:"short_label,omitempty"`
	FieldType   FieldType  `json:"field_type"`
	Required    bool       `json:"required"`
	Choices     []Choice   `json:"choices,omitempty"`
	Answer      Payload    `json:"answer,omitempty"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
}

// SessionView is the client-facing state of a session.
type SessionView struct {
	ID                    SessionID       `json:"session_id"`
	Questionnaire         QuestionnaireID `json:"questionnaire_id"`
	Flow                  Flow            `json:"flow"`
	State                 SessionState    `json:"state"`
	StartedAt             *time.Time      `json:"started_at,omitempty"`
	SubmitBefore          *time.Time      `json:"submit_before,omitempty"`
	ExpiresAt             *time.Time      `json:"expires_at,omitempty"`
	PathQuestions         []QuestionID    `json:"path_questions"`
	AnsweredQuestionIDs   []QuestionID    `json:"answered_question_ids"`
	UnansweredQuestionIDs []QuestionID    `json:"unanswered_question_ids"`
	NextQuestion          *QuestionID     `json:"next_question,omitempty"`
	CanFreeze             bool            `json:"can_freeze"`
	Frozen                bool            `json:"frozen"`
	Invalidated           bool            `json:"invalidated"`
	Questions             []QuestionView  `json:"questions"`
}

// SubmitResult confirms a freeze.
type SubmitResult struct {
	SessionID SessionID `json:"session_id"`
	FrozenAt  time.Time `json:"frozen_at"`
	// CompletionPending is true when the flow's side effect failed and was
	// queued for retry.
	CompletionPending bool `json:"completion_pending"`
}

// CleanupResult summarizes one expiry sweep.
type CleanupResult struct {
	Flow        Flow        `json:"flow"`
	Invalidated []SessionID `json:"invalidated"`
	Failed      int         `json:"failed"`
}

// NextUnanswered is where a respondent resumes: the first unanswered
// question after the furthest answered one. Optional questions passed over
// on the way are not revisited.
func (p *PathSnapshot) NextUnanswered() *QuestionID {
	from := 0
	for i, q := range p.Questions {
		if _, ok := p.Answers[q]; ok {
			from = i + 1
		}
	}
	for _, q := range p.Questions[from:] {
		if _, ok := p.Answers[q]; !ok {
			id := q
			return &id
		}
	}
	return nil
}

// UnansweredOrEmpty returns Unanswered, never nil, for JSON rendering.
func (p *PathSnapshot) UnansweredOrEmpty() []QuestionID {
	if p.Unanswered == nil {
		return []QuestionID{}
	}
	return p.Unanswered
}
