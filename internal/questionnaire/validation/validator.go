// Package validation checks answer payloads against a question's field type
// and, when the question enforces choices, against its predefined answers.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
)

// MaxTextLength bounds free-text answers.
const MaxTextLength = 3000

// schema checks one field type's payload shape. It returns a human readable
// reason on mismatch.
type schema func(v *validator.Validate, raw []byte) error

// AnswerValidator is a pure function over the supplied question data.
type AnswerValidator struct {
	validate *validator.Validate
	schemas  map[models.FieldType]schema
}

// New builds a validator with every known field type registered.
func New() *AnswerValidator {
	return &AnswerValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		schemas: map[models.FieldType]schema{
			models.FieldTypePlainText:      plainText,
			models.FieldTypeInteger:        integer,
			models.FieldTypeFloat:          float,
			models.FieldTypeBoolean:        boolean,
			models.FieldTypeEmail:          taggedString("required,email"),
			models.FieldTypeDate:           taggedString("required,datetime=2006-01-02"),
			models.FieldTypeDateTime:       taggedString("required,datetime=2006-01-02T15:04:05Z07:00"),
			models.FieldTypeMultipleChoice: multipleChoice,
			models.FieldTypeAssetSelect:    assetSelect,
		},
	}
}

// Validate returns nil when payload is an acceptable answer to q. Failures are
// coded schema_mismatch or not_a_predefined_answer and name the question.
func (v *AnswerValidator) Validate(payload models.Payload, q *models.Question) error {
	if q == nil {
		return dErrors.New(dErrors.CodeInternal, "question is required for validation")
	}
	if payload.IsNull() {
		if !q.Required {
			return nil
		}
		return dErrors.NewField(dErrors.CodeSchemaMismatch, q.FieldName(), "an answer is required")
	}

	check, ok := v.schemas[q.FieldType]
	if !ok {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("unknown field type %q", q.FieldType))
	}
	if err := check(v.validate, bytes.TrimSpace(payload)); err != nil {
		return dErrors.NewField(dErrors.CodeSchemaMismatch, q.FieldName(), err.Error())
	}

	if q.EnforceChoices && !q.HasChoice(payload) {
		return dErrors.NewField(dErrors.CodeNotAPredefinedAnswer, q.FieldName(), "answer is not one of the predefined choices")
	}
	return nil
}

func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after value")
	}
	return nil
}

func plainText(v *validator.Validate, raw []byte) error {
	var s string
	if err := decodeStrict(raw, &s); err != nil {
		return fmt.Errorf("expected a string")
	}
	if err := v.Var(s, fmt.Sprintf("required,max=%d", MaxTextLength)); err != nil {
		return fmt.Errorf("expected a non-empty string of at most %d characters", MaxTextLength)
	}
	return nil
}

func taggedString(tag string) schema {
	return func(v *validator.Validate, raw []byte) error {
		var s string
		if err := decodeStrict(raw, &s); err != nil {
			return fmt.Errorf("expected a string")
		}
		if err := v.Var(s, tag); err != nil {
			return fmt.Errorf("value does not satisfy %q", tag)
		}
		return nil
	}
}

// numeric decodes a bare JSON number; quoted numbers are rejected.
func numeric(raw []byte) (json.Number, error) {
	var n json.Number
	if len(raw) == 0 || raw[0] == '"' {
		return "", fmt.Errorf("expected a number")
	}
	if err := decodeStrict(raw, &n); err != nil {
		return "", fmt.Errorf("expected a number")
	}
	return n, nil
}

func integer(_ *validator.Validate, raw []byte) error {
	n, err := numeric(raw)
	if err != nil {
		return err
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("expected an integer")
	}
	return nil
}

func float(_ *validator.Validate, raw []byte) error {
	n, err := numeric(raw)
	if err != nil {
		return err
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("expected a finite number")
	}
	return nil
}

func boolean(_ *validator.Validate, raw []byte) error {
	var b bool
	if err := decodeStrict(raw, &b); err != nil {
		return fmt.Errorf("expected true or false")
	}
	return nil
}

func multipleChoice(v *validator.Validate, raw []byte) error {
	var selected []string
	if err := decodeStrict(raw, &selected); err != nil {
		return fmt.Errorf("expected a list of strings")
	}
	if err := v.Var(selected, "required,min=1,unique,dive,required"); err != nil {
		return fmt.Errorf("expected at least one distinct, non-empty selection")
	}
	return nil
}

// assetSelection is the structured answer for selecting a public asset
// (container, street light) on a map.
type assetSelection struct {
	ID          string       `json:"id" validate:"required,max=255"`
	Type        string       `json:"type" validate:"required,max=255"`
	Description string       `json:"description,omitempty" validate:"max=255"`
	Label       string       `json:"label,omitempty" validate:"max=255"`
	Location    *coordinates `json:"location,omitempty" validate:"omitempty"`
}

type coordinates struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

func assetSelect(v *validator.Validate, raw []byte) error {
	var selection []assetSelection
	if err := decodeStrict(raw, &selection); err != nil {
		var single assetSelection
		if err := decodeStrict(raw, &single); err != nil {
			return fmt.Errorf("expected an asset object or a list of asset objects")
		}
		selection = []assetSelection{single}
	}
	if len(selection) == 0 {
		return fmt.Errorf("expected at least one asset")
	}
	for i := range selection {
		if err := v.Struct(&selection[i]); err != nil {
			return fmt.Errorf("asset %d: %s", i, describe(err))
		}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("field %s failed %q", verrs[0].Field(), verrs[0].Tag())
	}
	return err.Error()
}
