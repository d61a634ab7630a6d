package transform

import (
	"errors"

	"docbrief/internal/config"
	"docbrief/internal/text"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageOverhead approximates the per-message framing tokens chat models add.
const MessageOverhead = config.MessageOverheadTokens

var ErrBudgetExceeded = errors.New("message does not fit the context budget")

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered message history. It is passed by value; every
// operation returns a new slice.
type Conversation []Message

func (c Conversation) With(m Message) Conversation {
	out := make(Conversation, len(c), len(c)+1)
	copy(out, c)
	return append(out, m)
}

// Tokens is the budgeted size of the whole conversation.
func (c Conversation) Tokens(tok text.Tokenizer) int {
	n := 0
	for _, m := range c {
		n += messageTokens(tok, m)
	}
	return n
}

func messageTokens(tok text.Tokenizer, m Message) int {
	return text.Count(tok, m.Content) + MessageOverhead
}

// Trim drops the oldest non-system messages until history plus next fits in
// budget. System messages are never dropped. History never resumes with an
// assistant reply: a reply whose prompt was dropped goes with it. If the
// system messages and next alone are over budget, ErrBudgetExceeded is
// returned.
func Trim(history Conversation, next Message, budget int, tok text.Tokenizer) (Conversation, error) {
	need := messageTokens(tok, next)
	total := history.Tokens(tok) + need

	out := make(Conversation, 0, len(history))
	kept := false
	for _, m := range history {
		if m.Role == RoleSystem {
			out = append(out, m)
			continue
		}
		if !kept && (total > budget || m.Role == RoleAssistant) {
			total -= messageTokens(tok, m)
			continue
		}
		kept = true
		out = append(out, m)
	}

	if total > budget {
		return nil, ErrBudgetExceeded
	}
	return out, nil
}
