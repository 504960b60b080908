package models

import "time"

// FieldType governs the shape of an answer payload.
type FieldType string

const (
	FieldTypePlainText      FieldType = "plain_text"
	FieldTypeInteger        FieldType = "integer"
	FieldTypeFloat          FieldType = "float"
	FieldTypeBoolean        FieldType = "boolean"
	FieldTypeEmail          FieldType = "email"
	FieldTypeDate           FieldType = "date"
	FieldTypeDateTime       FieldType = "datetime"
	FieldTypeMultipleChoice FieldType = "multiple_choice"
	FieldTypeAssetSelect    FieldType = "asset_select"
)

// Question is immutable once created. It belongs to questionnaires only
// through the edges of their graphs.
type Question struct {
	ID             QuestionID `json:"id"`
	AnalysisKey    string     `json:"analysis_key"`
	Label          string     `json:"label"`
	ShortLabel     string     `json:"short_label"`
	FieldType      FieldType  `json:"field_type"`
	Required       bool       `json:"required"`
	EnforceChoices bool       `json:"enforce_choices"`
	Choices        []Choice   `json:"choices,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Choice is one predefined answer value for a question.
type Choice struct {
	ID       ChoiceID   `json:"id"`
	Question QuestionID `json:"question_id"`
	Payload  Payload    `json:"payload"`
	Display  string     `json:"display"`
}

// HasChoice reports whether payload equals exactly one of the question's choices.
func (q *Question) HasChoice(payload Payload) bool {
	for _, c := range q.Choices {
		if c.Payload.Equal(payload) {
			return true
		}
	}
	return false
}

// FieldName is the name validation errors attribute to this question.
func (q *Question) FieldName() string {
	if q.AnalysisKey != "" {
		return q.AnalysisKey
	}
	return "question_" + q.ID.String()
}
