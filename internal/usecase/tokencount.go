package usecase

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"scholarbot/internal/domain"
)

// perMessageOverhead approximates the tokens the chat format spends on role
// markers and separators per message.
const perMessageOverhead = 4

// TokenCounter estimates token counts for chat messages. It uses the
// tiktoken encoding for the configured model when available and falls back
// to a bytes/4 heuristic when the encoding cannot be loaded (e.g. an
// unknown model name or no cached encoding files).
type TokenCounter struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter for the given model.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

func (tc *TokenCounter) encoding() *tiktoken.Tiktoken {
	tc.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(tc.model)
		if err != nil {
			return // heuristic fallback
		}
		tc.enc = enc
	})
	return tc.enc
}

// CountText returns the estimated token count of a text fragment.
func (tc *TokenCounter) CountText(s string) int {
	if enc := tc.encoding(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return len(s)/4 + 1
}

// CountMessage returns the estimated token count of one message, including
// tool call arguments.
func (tc *TokenCounter) CountMessage(m domain.Message) int {
	n := perMessageOverhead + tc.CountText(m.Content)
	for _, call := range m.ToolCalls {
		n += tc.CountText(call.Name) + tc.CountText(string(call.Arguments))
	}
	return n
}

// CountMessages returns the estimated token count of a message slice.
func (tc *TokenCounter) CountMessages(msgs []domain.Message) int {
	var n int
	for _, m := range msgs {
		n += tc.CountMessage(m)
	}
	return n
}
