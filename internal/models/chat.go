package models

// Role tags who authored a chat turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// ChatTurn is one message of a conversation.
type ChatTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// FilterTurns drops turns with unknown roles, keeping order.
func FilterTurns(turns []ChatTurn) []ChatTurn {
	out := make([]ChatTurn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role.Valid() {
			out = append(out, turn)
		}
	}
	return out
}

// SessionContext is the conversation state a front-end keeps between calls.
type SessionContext struct {
	Keyword  string     `json:"keyword"`
	Articles []Article  `json:"articles"`
	Summary  string     `json:"summary"`
	History  []ChatTurn `json:"history"`
}

// Reset starts a new conversation around freshly fetched articles.
func (s *SessionContext) Reset(keyword string, articles []Article) {
	s.Keyword = keyword
	s.Articles = articles
	s.Summary = ""
	s.History = nil
}

// AppendTurn records one message at the end of the history.
func (s *SessionContext) AppendTurn(role Role, text string) {
	s.History = append(s.History, ChatTurn{Role: role, Text: text})
}
