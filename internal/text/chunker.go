package text

import (
	"errors"
	"unicode/utf8"
)

var ErrInvalidLimit = errors.New("chunk token limit must be positive")

// maxBoundaryBacktrack bounds how far a window end moves left to avoid
// cutting a multi-byte character in half.
const maxBoundaryBacktrack = 3

type Chunk struct {
	Index  int
	Text   string
	Tokens int
}

// Split tokenises text once and slices the token stream into consecutive,
// non-overlapping windows of at most maxTokens. Each window is decoded on its
// own; decoding all windows in order yields the original token sequence.
func Split(text string, tok Tokenizer, maxTokens int) ([]Chunk, error) {
	if maxTokens <= 0 {
		return nil, ErrInvalidLimit
	}

	tokens := tok.Encode(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	chunks := make([]Chunk, 0, len(tokens)/maxTokens+1)
	for start := 0; start < len(tokens); {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		end = runeSafeEnd(tok, tokens, start, end)

		window := tokens[start:end]
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Text:   tok.Decode(window),
			Tokens: len(window),
		})
		start = end
	}
	return chunks, nil
}

func runeSafeEnd(tok Tokenizer, tokens []int, start, end int) int {
	if end == len(tokens) {
		return end
	}
	for back := 0; back <= maxBoundaryBacktrack && end-back > start+1; back++ {
		if utf8.ValidString(tok.Decode(tokens[start : end-back])) {
			return end - back
		}
	}
	return end
}
