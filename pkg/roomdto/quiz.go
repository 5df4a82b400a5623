package roomdto

// Question carries the canonical answer key. The engine trusts the key as
// fetched at room creation and performs no independent validation.
type Question struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Options   []string `json:"options"`
	Correct   int      `json:"correct"`
	TimeLimit int      `json:"time_limit,omitempty"`
	Points    int      `json:"points,omitempty"`
}

// QuizSnapshot is the frozen copy of a quiz embedded into the room at
// creation, insulating gameplay from later catalog edits.
type QuizSnapshot struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Category  string     `json:"category,omitempty"`
	Questions []Question `json:"questions"`
}

// QuestionByID returns the frozen question or nil.
func (q *QuizSnapshot) QuestionByID(id string) *Question {
	if q == nil {
		return nil
	}
	for i := range q.Questions {
		if q.Questions[i].ID == id {
			return &q.Questions[i]
		}
	}
	return nil
}
