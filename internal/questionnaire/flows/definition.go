package flows

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
)

//go:embed definitions/*.yaml
var definitionFiles embed.FS

// Definition describes a questionnaire graph by question keys. It is loaded
// from the embedded YAML files or posted by administrators as JSON.
type Definition struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description,omitempty"`
	First       string        `yaml:"first" json:"first"`
	Questions   []QuestionDef `yaml:"questions" json:"questions"`
}

// QuestionDef is one question; Key becomes the analysis key.
type QuestionDef struct {
	Key            string          `yaml:"key" json:"key"`
	Label          string          `yaml:"label" json:"label"`
	ShortLabel     string          `yaml:"short_label" json:"short_label,omitempty"`
	FieldType      string          `yaml:"field_type" json:"field_type"`
	Required       bool            `yaml:"required" json:"required"`
	EnforceChoices bool            `yaml:"enforce_choices" json:"enforce_choices,omitempty"`
	Choices        []ChoiceDef     `yaml:"choices" json:"choices,omitempty"`
	Next           []TransitionDef `yaml:"next" json:"next,omitempty"`
}

type ChoiceDef struct {
	Payload any    `yaml:"payload" json:"payload"`
	Display string `yaml:"display" json:"display"`
}

// TransitionDef is an outgoing edge. A nil When is the default transition;
// otherwise When must equal one of the question's choice payloads.
type TransitionDef struct {
	To    string `yaml:"to" json:"to"`
	When  any    `yaml:"when" json:"when,omitempty"`
	Order int    `yaml:"order" json:"order"`
}

var knownFieldTypes = map[models.FieldType]bool{
	models.FieldTypePlainText:      true,
	models.FieldTypeInteger:        true,
	models.FieldTypeFloat:          true,
	models.FieldTypeBoolean:        true,
	models.FieldTypeEmail:          true,
	models.FieldTypeDate:           true,
	models.FieldTypeDateTime:       true,
	models.FieldTypeMultipleChoice: true,
	models.FieldTypeAssetSelect:    true,
}

// LoadDefinition reads an embedded definition by file stem.
func LoadDefinition(name string) (Definition, error) {
	data, err := definitionFiles.ReadFile("definitions/" + name + ".yaml")
	if err != nil {
		return Definition{}, fmt.Errorf("read definition %s: %w", name, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse definition %s: %w", name, err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, fmt.Errorf("definition %s: %w", name, err)
	}
	return def, nil
}

// Validate checks the definition is self-consistent. It does not check size
// or cycles; those are graph load concerns.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return dErrors.NewField(dErrors.CodeValidation, "name", "name is required")
	}
	if len(d.Questions) == 0 {
		return dErrors.NewField(dErrors.CodeValidation, "questions", "at least one question is required")
	}
	keys := make(map[string]QuestionDef, len(d.Questions))
	for _, q := range d.Questions {
		if q.Key == "" {
			return dErrors.NewField(dErrors.CodeValidation, "questions", "question key is required")
		}
		if _, dup := keys[q.Key]; dup {
			return dErrors.NewField(dErrors.CodeValidation, "questions", fmt.Sprintf("duplicate question key %q", q.Key))
		}
		if !knownFieldTypes[models.FieldType(q.FieldType)] {
			return dErrors.NewField(dErrors.CodeValidation, q.Key, fmt.Sprintf("unknown field type %q", q.FieldType))
		}
		if q.EnforceChoices && len(q.Choices) == 0 {
			return dErrors.NewField(dErrors.CodeValidation, q.Key, "enforce_choices requires choices")
		}
		keys[q.Key] = q
	}
	if _, ok := keys[d.First]; !ok {
		return dErrors.NewField(dErrors.CodeValidation, "first", fmt.Sprintf("first question %q is not defined", d.First))
	}
	for _, q := range d.Questions {
		for _, t := range q.Next {
			if _, ok := keys[t.To]; !ok {
				return dErrors.NewField(dErrors.CodeValidation, q.Key, fmt.Sprintf("transition to undefined question %q", t.To))
			}
			if t.When != nil && q.choiceIndex(t.When) < 0 {
				return dErrors.NewField(dErrors.CodeValidation, q.Key, fmt.Sprintf("transition to %q matches no choice", t.To))
			}
		}
	}
	return nil
}

func (q QuestionDef) choiceIndex(when any) int {
	target, err := payloadOf(when)
	if err != nil {
		return -1
	}
	for i, c := range q.Choices {
		p, err := payloadOf(c.Payload)
		if err == nil && p.Equal(target) {
			return i
		}
	}
	return -1
}

func payloadOf(v any) (models.Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return models.Payload(b), nil
}

// Params fill {name} placeholders in labels, e.g. the question a reaction
// request asks.
type Params map[string]string

func (p Params) apply(s string) string {
	if len(p) == 0 {
		return s
	}
	pairs := make([]string, 0, 2*len(p))
	for k, v := range p {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Writer persists questionnaire configuration.
type Writer interface {
	CreateQuestion(ctx context.Context, q *models.Question) error
	CreateGraph(ctx context.Context, g *models.QuestionGraph) error
	CreateEdge(ctx context.Context, e *models.Edge) error
	CreateQuestionnaire(ctx context.Context, q *models.Questionnaire) error
}

// Materialize writes the definition's questions, graph, edges and a
// questionnaire bound to flow.
func Materialize(ctx context.Context, w Writer, flow models.Flow, def Definition, params Params) (*models.Questionnaire, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	ids := make(map[string]models.QuestionID, len(def.Questions))
	created := make(map[string]*models.Question, len(def.Questions))
	for _, qd := range def.Questions {
		q := &models.Question{
			AnalysisKey:    qd.Key,
			Label:          params.apply(qd.Label),
			ShortLabel:     params.apply(qd.ShortLabel),
			FieldType:      models.FieldType(qd.FieldType),
			Required:       qd.Required,
			EnforceChoices: qd.EnforceChoices,
		}
		for _, cd := range qd.Choices {
			payload, err := payloadOf(cd.Payload)
			if err != nil {
				return nil, dErrors.NewField(dErrors.CodeValidation, qd.Key, "choice payload is not JSON encodable")
			}
			q.Choices = append(q.Choices, models.Choice{Payload: payload, Display: params.apply(cd.Display)})
		}
		if err := w.CreateQuestion(ctx, q); err != nil {
			return nil, fmt.Errorf("create question %s: %w", qd.Key, err)
		}
		ids[qd.Key] = q.ID
		created[qd.Key] = q
	}

	first := ids[def.First]
	g := &models.QuestionGraph{Name: params.apply(def.Name), FirstQuestion: &first}
	if err := w.CreateGraph(ctx, g); err != nil {
		return nil, fmt.Errorf("create graph: %w", err)
	}

	for _, qd := range def.Questions {
		for _, t := range qd.Next {
			e := &models.Edge{
				Graph:        g.ID,
				Question:     ids[qd.Key],
				NextQuestion: ids[t.To],
				Order:        t.Order,
			}
			if t.When != nil {
				choice := created[qd.Key].Choices[qd.choiceIndex(t.When)]
				e.Choice = &choice
			}
			if err := w.CreateEdge(ctx, e); err != nil {
				return nil, fmt.Errorf("create edge %s -> %s: %w", qd.Key, t.To, err)
			}
		}
	}

	qn := &models.Questionnaire{
		Graph:       g.ID,
		Flow:        flow,
		Name:        params.apply(def.Name),
		Description: params.apply(def.Description),
		IsActive:    true,
	}
	if err := w.CreateQuestionnaire(ctx, qn); err != nil {
		return nil, fmt.Errorf("create questionnaire: %w", err)
	}
	return qn, nil
}
