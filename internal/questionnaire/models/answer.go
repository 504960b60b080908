package models

import "time"

// Answer is append-only. Several answers may exist for one (session, question)
// pair; only the latest counts.
type Answer struct {
	ID        AnswerID   `json:"id"`
	Session   SessionID  `json:"session_id"`
	Question  QuestionID `json:"question_id"`
	Payload   Payload    `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
}

// Supersedes reports whether a is more recent than b: later CreatedAt wins,
// ties go to the higher id.
func (a Answer) Supersedes(b Answer) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// LatestAnswers keeps the authoritative answer per question. The result does
// not depend on the order of the input.
func LatestAnswers(answers []Answer) map[QuestionID]Answer {
	latest := make(map[QuestionID]Answer, len(answers))
	for _, a := range answers {
		current, ok := latest[a.Question]
		if !ok || a.Supersedes(current) {
			latest[a.Question] = a
		}
	}
	return latest
}
