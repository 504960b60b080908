package models

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Row identifiers are database serials; their numeric order is the tie-break
// order for edges and answers.
type (
	QuestionID      int64
	ChoiceID        int64
	EdgeID          int64
	GraphID         int64
	QuestionnaireID int64
	AnswerID        int64
	IncidentID      int64
)

// SessionID is the externally addressable session identifier.
type SessionID uuid.UUID

func NewSessionID() SessionID { return SessionID(uuid.New()) }

func (id SessionID) String() string { return uuid.UUID(id).String() }

func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseSessionID parses the textual form of a session id.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, fmt.Errorf("parse session id: %w", err)
	}
	if u == uuid.Nil {
		return SessionID{}, fmt.Errorf("parse session id: nil uuid")
	}
	return SessionID(u), nil
}

func (id SessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SessionID) UnmarshalText(b []byte) error {
	parsed, err := ParseSessionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id QuestionID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id GraphID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id QuestionnaireID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseGraphID parses a path parameter.
func ParseGraphID(s string) (GraphID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("parse graph id %q", s)
	}
	return GraphID(v), nil
}
