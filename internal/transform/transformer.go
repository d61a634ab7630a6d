package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"docbrief/internal/text"
)

var ErrEmptyReply = errors.New("model returned an empty reply")

// Completer sends a conversation to a chat model and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, conv Conversation) (string, error)
}

type Transformer struct {
	completer     Completer
	tok           text.Tokenizer
	contextTokens int
	replyTokens   int
}

func NewTransformer(c Completer, tok text.Tokenizer, contextTokens, replyTokens int) *Transformer {
	return &Transformer{completer: c, tok: tok, contextTokens: contextTokens, replyTokens: replyTokens}
}

// Run applies the instruction to every chunk in order, carrying the running
// conversation so later chunks see earlier replies. Replies are returned in
// chunk order. heartbeat, if set, is called after every model round trip.
func (t *Transformer) Run(ctx context.Context, instruction string, chunks []text.Chunk, heartbeat func()) ([]string, error) {
	budget := t.contextTokens - t.replyTokens
	conv := Conversation{{Role: RoleSystem, Content: instruction}}
	replies := make([]string, 0, len(chunks))

	for _, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next := Message{Role: RoleUser, Content: ch.Text}
		trimmed, err := Trim(conv, next, budget, t.tok)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", ch.Index, err)
		}
		if dropped := len(conv) - len(trimmed); dropped > 0 {
			slog.DebugContext(ctx, "trimmed conversation history", "chunk", ch.Index, "dropped", dropped)
		}

		conv = trimmed.With(next)
		reply, err := t.completer.Complete(ctx, conv)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", ch.Index, err)
		}
		if strings.TrimSpace(reply) == "" {
			return nil, fmt.Errorf("chunk %d: %w", ch.Index, ErrEmptyReply)
		}

		conv = conv.With(Message{Role: RoleAssistant, Content: reply})
		replies = append(replies, reply)

		if heartbeat != nil {
			heartbeat()
		}
	}
	return replies, nil
}
