package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"scholarbot/internal/domain"
)

// --- Mocks ---

// mockLLM replays a scripted sequence of responses or errors.
type mockLLM struct {
	mu        sync.Mutex
	responses []mockReply
	callIdx   int
}

type mockReply struct {
	resp domain.ChatResponse
	err  error
}

func (m *mockLLM) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callIdx >= len(m.responses) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
		}, nil
	}
	reply := m.responses[m.callIdx]
	m.callIdx++
	if reply.err != nil {
		return nil, reply.err
	}
	resp := reply.resp
	return &resp, nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

func assistantReply(content string) mockReply {
	return mockReply{resp: domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: content},
	}}
}

func toolCallReply(calls ...domain.ToolCall) mockReply {
	return mockReply{resp: domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls},
	}}
}

// mockStreamLLM wraps mockLLM and delivers each scripted response as a series
// of deltas: per-rune content, then one single-element delta per tool call
// carrying its index, the way the wire protocol streams parallel calls.
type mockStreamLLM struct {
	mockLLM
}

func (m *mockStreamLLM) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.StreamDelta, 8)
	go func() {
		defer close(ch)
		for _, r := range resp.Message.Content {
			ch <- domain.StreamDelta{Content: string(r)}
		}
		for i, tc := range resp.Message.ToolCalls {
			tc.Index = i
			ch <- domain.StreamDelta{ToolCalls: []domain.ToolCall{tc}}
		}
		ch <- domain.StreamDelta{Done: true, Usage: &resp.Usage}
	}()
	return ch, nil
}

type mockToolExecutor struct {
	tools map[string]domain.Tool
}

func (m *mockToolExecutor) Get(name string) (domain.Tool, error) {
	t, ok := m.tools[name]
	if !ok {
		return nil, domain.NewDomainError("mockToolExecutor.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (m *mockToolExecutor) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, t.Schema())
	}
	return out
}

type staticTool struct {
	name   string
	result string
	delay  func() // optional hook, runs before returning
}

func (t *staticTool) Name() string        { return t.name }
func (t *staticTool) Description() string { return "static test tool" }
func (t *staticTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description()}
}
func (t *staticTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	if t.delay != nil {
		t.delay()
	}
	return &domain.ToolResult{Content: t.result}, nil
}

type errorTool struct {
	name string
}

func (t *errorTool) Name() string        { return t.name }
func (t *errorTool) Description() string { return "error test tool" }
func (t *errorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name}
}
func (t *errorTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	return nil, fmt.Errorf("tool execution failed")
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent(llm domain.LLMProvider, tools map[string]domain.Tool) *Agent {
	if tools == nil {
		tools = map[string]domain.Tool{}
	}
	return NewAgent(AgentDeps{
		LLM:            llm,
		Tools:          &mockToolExecutor{tools: tools},
		ContextBuilder: NewContextBuilder("test-model", 0.7, 16000),
		Logger:         newTestLogger(),
		MaxIterations:  4,
	})
}
