package models

import "time"

// Flow selects the completion policy a questionnaire's sessions follow.
type Flow string

const (
	FlowExtraProperties   Flow = "extra_properties"
	FlowFeedbackRequest   Flow = "feedback_request"
	FlowReactionRequest   Flow = "reaction_request"
	FlowForwardToExternal Flow = "forward_to_external"
)

// Flows lists every known flow.
var Flows = []Flow{FlowExtraProperties, FlowFeedbackRequest, FlowReactionRequest, FlowForwardToExternal}

func (f Flow) IsValid() bool {
	for _, known := range Flows {
		if f == known {
			return true
		}
	}
	return false
}

// Questionnaire binds a graph to a flow.
type Questionnaire struct {
	ID          QuestionnaireID `json:"id"`
	Graph       GraphID         `json:"graph_id"`
	Flow        Flow            `json:"flow"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
}
