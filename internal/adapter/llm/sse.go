package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"scholarbot/internal/domain"
)

// Chat-completions streaming wire types. Unlike the synchronous response,
// streamed tool calls carry an index: fragments for a later parallel call
// arrive as a single-element array identified by that index, so it must be
// preserved for the accumulator.
type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
}

type streamChoice struct {
	Delta        streamPayload `json:"delta"`
	FinishReason *string       `json:"finish_reason"`
}

type streamPayload struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []streamToolCall `json:"tool_calls,omitempty"`
}

type streamToolCall struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id,omitempty"`
	Function openaiToolCallFunction `json:"function"`
}

var sseDataPrefix = []byte("data:")

// readChatStream consumes a chat-completions SSE body and emits one
// StreamDelta per data event. The channel closes when the stream ends, the
// server sends its terminator, or ctx is cancelled; the body is always
// closed.
func readChatStream(ctx context.Context, body io.ReadCloser) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			if !bytes.HasPrefix(line, sseDataPrefix) {
				// Blank keepalives, comments, and event-name lines.
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, sseDataPrefix))

			if bytes.Equal(data, []byte("[DONE]")) {
				ch <- domain.StreamDelta{Done: true}
				return
			}

			delta, ok := decodeStreamChunk(data)
			if !ok {
				continue
			}

			select {
			case ch <- delta:
			case <-ctx.Done():
				return
			}
			if delta.Done {
				return
			}
		}
		// A scan error means the connection dropped mid-stream. Tell the
		// consumer the stream is over rather than leaving it waiting.
		if scanner.Err() != nil {
			select {
			case ch <- domain.StreamDelta{Done: true}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}

// decodeStreamChunk converts one data payload into a StreamDelta. Payloads
// that fail to decode are dropped; the stream itself stays usable.
func decodeStreamChunk(data []byte) (domain.StreamDelta, bool) {
	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return domain.StreamDelta{}, false
	}

	var delta domain.StreamDelta
	if len(chunk.Choices) > 0 {
		c := chunk.Choices[0]
		delta.Content = c.Delta.Content
		for _, tc := range c.Delta.ToolCalls {
			delta.ToolCalls = append(delta.ToolCalls, domain.ToolCall{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		if c.FinishReason != nil && *c.FinishReason != "" {
			delta.Done = true
		}
	}
	if chunk.Usage != nil {
		delta.Usage = &domain.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	return delta, true
}
