package domain

// Stage identifies a step of the document workflow. Concrete stage ids come
// from the stage definition; the ones below are referenced by code.
type Stage string

const (
	StageInputForm Stage = "input_form"
	StageOutline   Stage = "outline"
	StageCompleted Stage = "completed"
)

func (s Stage) String() string { return string(s) }

// ReviewState is the position inside the review/revision cycle of a section.
type ReviewState string

const (
	ReviewGenerating     ReviewState = "generating"
	ReviewReadyForReview ReviewState = "ready_for_review"
	ReviewRevising       ReviewState = "revising"
	ReviewApproved       ReviewState = "approved"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatTurn is one exchange entry sent back to the upstream service as context.
type ChatTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Conversation is the ordered history of a session. It only grows through
// Commit, which appends a full user/model exchange.
type Conversation struct {
	turns []ChatTurn
}

// Commit appends the instruction and the model reply.
func (c *Conversation) Commit(instruction, reply string) {
	c.turns = append(c.turns,
		ChatTurn{Role: RoleUser, Text: instruction},
		ChatTurn{Role: RoleModel, Text: reply},
	)
}

// Turns returns a copy of the history.
func (c *Conversation) Turns() []ChatTurn {
	out := make([]ChatTurn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len is the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }

// Reset empties the history.
func (c *Conversation) Reset() { c.turns = nil }

// SolutionContent keeps the reviewed text of one section.
type SolutionContent struct {
	Content         string   `json:"content"`
	Approved        bool     `json:"approved"`
	RevisionHistory []string `json:"revisionHistory"`
}

// ExtractedSection is the located span of a section inside the document.
type ExtractedSection struct {
	SectionID   int    `json:"sectionId"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	Text        string `json:"text"`
	Strategy    string `json:"strategy"`
}
