package text

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer maps text to model tokens and back.
type Tokenizer interface {
	Encode(s string) []int
	Decode(tokens []int) string
}

var loaderOnce sync.Once

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken returns a BPE tokenizer for the named encoding. Rank files are
// embedded, so no network access is needed at startup.
func NewTiktoken(encoding string) (Tokenizer, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Encode(s string) []int {
	return t.enc.Encode(s, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Count returns the token length of s.
func Count(tok Tokenizer, s string) int {
	if s == "" {
		return 0
	}
	return len(tok.Encode(s))
}
