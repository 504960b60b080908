package validation

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
)

type ValidatorSuite struct {
	suite.Suite
	validator *AnswerValidator
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func (s *ValidatorSuite) SetupTest() {
	s.validator = New()
}

func question(fieldType models.FieldType, required bool) *models.Question {
	return &models.Question{ID: 7, AnalysisKey: "q7", FieldType: fieldType, Required: required}
}

func (s *ValidatorSuite) TestOptionalQuestions() {
	s.Run("null answer to optional question short-circuits", func() {
		q := question(models.FieldTypeInteger, false)
		q.EnforceChoices = true
		s.NoError(s.validator.Validate(nil, q))
		s.NoError(s.validator.Validate(models.Payload("null"), q))
	})

	s.Run("null answer to required question fails with the question named", func() {
		err := s.validator.Validate(nil, question(models.FieldTypePlainText, true))
		s.True(dErrors.HasCode(err, dErrors.CodeSchemaMismatch))
		de, _ := dErrors.As(err)
		s.Equal("q7", de.Field)
	})
}

func (s *ValidatorSuite) TestFieldTypeSchemas() {
	tests := []struct {
		name      string
		fieldType models.FieldType
		payload   string
		valid     bool
	}{
		{"plain text", models.FieldTypePlainText, `"Het is opgelost"`, true},
		{"plain text rejects numbers", models.FieldTypePlainText, `42`, false},
		{"plain text rejects empty", models.FieldTypePlainText, `""`, false},
		{"integer", models.FieldTypeInteger, `3`, true},
		{"integer rejects fractions", models.FieldTypeInteger, `3.5`, false},
		{"integer rejects quoted numbers", models.FieldTypeInteger, `"3"`, false},
		{"float", models.FieldTypeFloat, `3.5`, true},
		{"boolean", models.FieldTypeBoolean, `true`, true},
		{"boolean rejects strings", models.FieldTypeBoolean, `"true"`, false},
		{"email", models.FieldTypeEmail, `"burger@example.org"`, true},
		{"email rejects garbage", models.FieldTypeEmail, `"not-an-email"`, false},
		{"date", models.FieldTypeDate, `"2026-02-28"`, true},
		{"date rejects datetime", models.FieldTypeDate, `"2026-02-28T10:00:00Z"`, false},
		{"datetime", models.FieldTypeDateTime, `"2026-02-28T10:00:00+01:00"`, true},
		{"multiple choice", models.FieldTypeMultipleChoice, `["a","b"]`, true},
		{"multiple choice rejects duplicates", models.FieldTypeMultipleChoice, `["a","a"]`, false},
		{"multiple choice rejects empty list", models.FieldTypeMultipleChoice, `[]`, false},
		{"asset object", models.FieldTypeAssetSelect, `{"id":"GLA-1","type":"glas"}`, true},
		{"asset list", models.FieldTypeAssetSelect, `[{"id":"GLA-1","type":"glas","location":{"lat":52.37,"lon":4.9}}]`, true},
		{"asset missing id", models.FieldTypeAssetSelect, `{"type":"glas"}`, false},
		{"asset unknown field", models.FieldTypeAssetSelect, `{"id":"GLA-1","type":"glas","colour":"green"}`, false},
		{"asset bad latitude", models.FieldTypeAssetSelect, `{"id":"GLA-1","type":"glas","location":{"lat":123,"lon":4.9}}`, false},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.validator.Validate(models.Payload(tt.payload), question(tt.fieldType, true))
			if tt.valid {
				s.NoError(err)
				return
			}
			s.True(dErrors.HasCode(err, dErrors.CodeSchemaMismatch), "got %v", err)
		})
	}
}

func (s *ValidatorSuite) TestEnforcedChoices() {
	q := question(models.FieldTypePlainText, true)
	q.EnforceChoices = true
	q.Choices = []models.Choice{
		{ID: 1, Question: q.ID, Payload: models.PayloadOf("yes"), Display: "Ja"},
		{ID: 2, Question: q.ID, Payload: models.PayloadOf("no"), Display: "Nee"},
	}

	s.Run("accepts a predefined answer", func() {
		s.NoError(s.validator.Validate(models.PayloadOf("no"), q))
	})

	s.Run("rejects other values", func() {
		err := s.validator.Validate(models.PayloadOf("maybe"), q)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAPredefinedAnswer))
	})

	s.Run("requires exact equality", func() {
		err := s.validator.Validate(models.PayloadOf("yess"), q)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAPredefinedAnswer))
	})

	s.Run("schema still runs before choices", func() {
		err := s.validator.Validate(models.PayloadOf(1), q)
		s.True(dErrors.HasCode(err, dErrors.CodeSchemaMismatch))
	})

	s.Run("choices without enforcement are suggestions", func() {
		open := *q
		open.EnforceChoices = false
		s.NoError(s.validator.Validate(models.PayloadOf("something else"), &open))
	})
}

func (s *ValidatorSuite) TestUnknownFieldType() {
	err := s.validator.Validate(models.PayloadOf("x"), question("signature", true))
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
