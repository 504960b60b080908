package models

// PathSnapshot is the result of walking a graph with a session's answers. It
// is computed on demand and held immutably for the duration of one request.
type PathSnapshot struct {
	// Questions are the visited questions in walk order.
	Questions []QuestionID
	// Answers holds the authoritative answer of every answered question on the path.
	Answers map[QuestionID]Answer
	// Unanswered lists required questions on the path without an answer, in walk order.
	Unanswered []QuestionID
	// TerminalReached is true when the walk ended at a question with no next question.
	TerminalReached bool
	CanFreeze       bool
	// ByAnalysisKey maps each answered question's analysis key to its answer.
	ByAnalysisKey map[string]Answer
}

// AnsweredQuestionIDs lists the answered questions in path order.
func (p *PathSnapshot) AnsweredQuestionIDs() []QuestionID {
	ids := make([]QuestionID, 0, len(p.Answers))
	for _, q := range p.Questions {
		if _, ok := p.Answers[q]; ok {
			ids = append(ids, q)
		}
	}
	return ids
}

// AnswerFor returns the path answer for the given analysis key.
func (p *PathSnapshot) AnswerFor(analysisKey string) (Answer, bool) {
	a, ok := p.ByAnalysisKey[analysisKey]
	return a, ok
}

// OnPath reports whether q was visited.
func (p *PathSnapshot) OnPath(q QuestionID) bool {
	for _, id := range p.Questions {
		if id == q {
			return true
		}
	}
	return false
}
