package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"scholarbot/internal/domain"
)

func TestAgentPlainReply(t *testing.T) {
	llm := &mockLLM{responses: []mockReply{assistantReply("hello there")}}
	agent := newTestAgent(llm, nil)
	session := NewSession("t1")

	reply, err := agent.HandleMessage(context.Background(), session, "hi")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("reply = %q, want %q", reply, "hello there")
	}

	// system + user + assistant
	msgs := session.Messages()
	if len(msgs) != 3 {
		t.Fatalf("history length = %d, want 3", len(msgs))
	}
	if msgs[0].Role != domain.RoleSystem {
		t.Errorf("first message role = %q, want system", msgs[0].Role)
	}
	if msgs[1].Role != domain.RoleUser || msgs[1].Content != "hi" {
		t.Errorf("second message = %+v, want user 'hi'", msgs[1])
	}
}

func TestAgentSystemMessageAppendedOnce(t *testing.T) {
	llm := &mockLLM{responses: []mockReply{
		assistantReply("first"),
		assistantReply("second"),
	}}
	agent := newTestAgent(llm, nil)
	session := NewSession("t1")

	ctx := context.Background()
	if _, err := agent.HandleMessage(ctx, session, "one"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := agent.HandleMessage(ctx, session, "two"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	var systemCount int
	for i, m := range session.Messages() {
		if m.Role == domain.RoleSystem {
			systemCount++
			if i != 0 {
				t.Errorf("system message at index %d, want 0", i)
			}
		}
	}
	if systemCount != 1 {
		t.Errorf("system message count = %d, want 1", systemCount)
	}
}

func TestAgentToolLoopReconcilesOutput(t *testing.T) {
	toolOutput := "Found 2 resources (showing 2):\n\n1. **Deep Learning**"
	llm := &mockLLM{responses: []mockReply{
		toolCallReply(domain.ToolCall{ID: "call_1", Name: "search", Arguments: []byte(`{}`)}),
		assistantReply("I found two books for you."),
	}}
	agent := newTestAgent(llm, map[string]domain.Tool{
		"search": &staticTool{name: "search", result: toolOutput},
	})
	session := NewSession("t1")

	reply, err := agent.HandleMessage(context.Background(), session, "find deep learning books")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	toolIdx := strings.Index(reply, toolOutput)
	finalIdx := strings.Index(reply, "I found two books for you.")
	if toolIdx < 0 {
		t.Fatalf("reply missing tool output:\n%s", reply)
	}
	if finalIdx < 0 {
		t.Fatalf("reply missing model text:\n%s", reply)
	}
	if toolIdx > finalIdx {
		t.Errorf("tool output should precede model text:\n%s", reply)
	}
	if !strings.Contains(reply, "---") {
		t.Errorf("reply missing separator:\n%s", reply)
	}
}

func TestAgentToolErrorNotSurfacedInReply(t *testing.T) {
	llm := &mockLLM{responses: []mockReply{
		toolCallReply(domain.ToolCall{ID: "call_1", Name: "bad", Arguments: []byte(`{}`)}),
		assistantReply("The search is unavailable right now."),
	}}
	agent := newTestAgent(llm, map[string]domain.Tool{
		"bad": &errorTool{name: "bad"},
	})
	session := NewSession("t1")

	reply, err := agent.HandleMessage(context.Background(), session, "search")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if strings.Contains(reply, "tool execution failed") {
		t.Errorf("raw tool error leaked into reply:\n%s", reply)
	}
	if reply != "The search is unavailable right now." {
		t.Errorf("reply = %q, want model text only", reply)
	}

	// The error is still on the log for the model to see.
	var found bool
	for _, m := range session.Messages() {
		if m.Role == domain.RoleTool && m.IsError {
			found = true
			if m.Content != "tool execution failed" {
				t.Errorf("tool message content = %q", m.Content)
			}
		}
	}
	if !found {
		t.Error("no error-flagged tool message in history")
	}
}

func TestAgentUnknownToolContinues(t *testing.T) {
	llm := &mockLLM{responses: []mockReply{
		toolCallReply(domain.ToolCall{ID: "call_1", Name: "nope", Arguments: []byte(`{}`)}),
		assistantReply("done"),
	}}
	agent := newTestAgent(llm, nil)
	session := NewSession("t1")

	reply, err := agent.HandleMessage(context.Background(), session, "go")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "done" {
		t.Errorf("reply = %q, want %q", reply, "done")
	}
}

func TestAgentMaxIterations(t *testing.T) {
	// The model asks for a tool on every call; the loop must terminate.
	var replies []mockReply
	for i := 0; i < 10; i++ {
		replies = append(replies, toolCallReply(
			domain.ToolCall{ID: fmt.Sprintf("call_%d", i), Name: "search", Arguments: []byte(`{}`)},
		))
	}
	llm := &mockLLM{responses: replies}
	agent := newTestAgent(llm, map[string]domain.Tool{
		"search": &staticTool{name: "search", result: "nothing"},
	})
	session := NewSession("t1")

	_, err := agent.HandleMessage(context.Background(), session, "loop forever")
	if !errors.Is(err, domain.ErrMaxIterations) {
		t.Fatalf("err = %v, want ErrMaxIterations", err)
	}
	if llm.calls() != 4 {
		t.Errorf("llm calls = %d, want 4 (the iteration bound)", llm.calls())
	}
}

func TestAgentToolResultsKeepRequestOrder(t *testing.T) {
	// Two tools in one response; the slower one is requested first.
	started := make(chan struct{})
	llm := &mockLLM{responses: []mockReply{
		toolCallReply(
			domain.ToolCall{ID: "call_1", Name: "slow", Arguments: []byte(`{}`)},
			domain.ToolCall{ID: "call_2", Name: "fast", Arguments: []byte(`{}`)},
		),
		assistantReply("done"),
	}}
	agent := newTestAgent(llm, map[string]domain.Tool{
		"slow": &staticTool{name: "slow", result: "slow-result", delay: func() { <-started }},
		"fast": &staticTool{name: "fast", result: "fast-result", delay: func() { close(started) }},
	})
	session := NewSession("t1")

	if _, err := agent.HandleMessage(context.Background(), session, "go"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	var toolMsgs []domain.Message
	for _, m := range session.Messages() {
		if m.Role == domain.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 2 {
		t.Fatalf("tool messages = %d, want 2", len(toolMsgs))
	}
	if toolMsgs[0].Name != "slow" || toolMsgs[1].Name != "fast" {
		t.Errorf("tool order = [%s, %s], want [slow, fast]", toolMsgs[0].Name, toolMsgs[1].Name)
	}
	if toolMsgs[0].ToolCalls[0].ID != "call_1" {
		t.Errorf("first tool message ID = %q, want call_1", toolMsgs[0].ToolCalls[0].ID)
	}
}

func TestAgentRetriesTransientError(t *testing.T) {
	llm := &mockLLM{responses: []mockReply{
		{err: fmt.Errorf("API error 503: upstream overloaded")},
		assistantReply("recovered"),
	}}
	agent := NewAgent(AgentDeps{
		LLM:            llm,
		Tools:          &mockToolExecutor{tools: map[string]domain.Tool{}},
		ContextBuilder: NewContextBuilder("test-model", 0.7, 16000),
		Logger:         newTestLogger(),
		MaxIterations:  4,
		Classifier:     NewErrorClassifier(),
	})
	session := NewSession("t1")

	reply, err := agent.HandleMessage(context.Background(), session, "hi")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "recovered" {
		t.Errorf("reply = %q, want %q", reply, "recovered")
	}
	if llm.calls() != 2 {
		t.Errorf("llm calls = %d, want 2", llm.calls())
	}
}

func TestAgentRateLimitIsNotRetriedWithinTurn(t *testing.T) {
	// Rate-limit failures surface immediately so the user gets retry-later
	// guidance; only 5xx and transport errors are retried in place.
	llm := &mockLLM{responses: []mockReply{
		{err: fmt.Errorf("API error 429: rate limited")},
		assistantReply("should not reach"),
	}}
	agent := NewAgent(AgentDeps{
		LLM:            llm,
		Tools:          &mockToolExecutor{tools: map[string]domain.Tool{}},
		ContextBuilder: NewContextBuilder("test-model", 0.7, 16000),
		Logger:         newTestLogger(),
		MaxIterations:  4,
		Classifier:     NewErrorClassifier(),
	})
	session := NewSession("t1")

	_, err := agent.HandleMessage(context.Background(), session, "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.calls() != 1 {
		t.Errorf("llm calls = %d, want 1 (no retry on rate limits)", llm.calls())
	}
}

func TestAgentPermanentErrorFailsFast(t *testing.T) {
	llm := &mockLLM{responses: []mockReply{
		{err: fmt.Errorf("API error 401: invalid key")},
		assistantReply("should not reach"),
	}}
	agent := NewAgent(AgentDeps{
		LLM:            llm,
		Tools:          &mockToolExecutor{tools: map[string]domain.Tool{}},
		ContextBuilder: NewContextBuilder("test-model", 0.7, 16000),
		Logger:         newTestLogger(),
		MaxIterations:  4,
		Classifier:     NewErrorClassifier(),
	})
	session := NewSession("t1")

	_, err := agent.HandleMessage(context.Background(), session, "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.calls() != 1 {
		t.Errorf("llm calls = %d, want 1 (no retry on auth errors)", llm.calls())
	}
}

func TestAgentStreamDeliversDeltas(t *testing.T) {
	llm := &mockStreamLLM{mockLLM{responses: []mockReply{assistantReply("hi!")}}}
	agent := newTestAgent(llm, nil)
	session := NewSession("t1")

	var streamed strings.Builder
	reply, err := agent.HandleMessageStream(context.Background(), session, "hello",
		func(d domain.StreamDelta) { streamed.WriteString(d.Content) })
	if err != nil {
		t.Fatalf("HandleMessageStream: %v", err)
	}
	if reply != "hi!" {
		t.Errorf("reply = %q, want %q", reply, "hi!")
	}
	if streamed.String() != "hi!" {
		t.Errorf("streamed = %q, want %q", streamed.String(), "hi!")
	}
}

func TestAgentStreamToolLoop(t *testing.T) {
	llm := &mockStreamLLM{mockLLM{responses: []mockReply{
		toolCallReply(domain.ToolCall{ID: "call_1", Name: "search", Arguments: []byte(`{}`)}),
		assistantReply("Here is what I found."),
	}}}
	agent := newTestAgent(llm, map[string]domain.Tool{
		"search": &staticTool{name: "search", result: "Found 1 resources (showing 1):"},
	})
	session := NewSession("t1")

	reply, err := agent.HandleMessageStream(context.Background(), session, "search", nil)
	if err != nil {
		t.Fatalf("HandleMessageStream: %v", err)
	}
	// Streamed turns return the raw model text; deltas are the delivery.
	if reply != "Here is what I found." {
		t.Errorf("reply = %q, want raw model text", reply)
	}
}

func TestAgentStreamFallbackWithoutStreamingProvider(t *testing.T) {
	llm := &mockLLM{responses: []mockReply{assistantReply("plain")}}
	agent := newTestAgent(llm, nil)
	session := NewSession("t1")

	var got string
	var done bool
	reply, err := agent.HandleMessageStream(context.Background(), session, "hi",
		func(d domain.StreamDelta) {
			got += d.Content
			done = done || d.Done
		})
	if err != nil {
		t.Fatalf("HandleMessageStream: %v", err)
	}
	if reply != "plain" || got != "plain" || !done {
		t.Errorf("reply=%q streamed=%q done=%v", reply, got, done)
	}
}

func TestStreamAccumulatorMergesToolCalls(t *testing.T) {
	acc := newStreamAccumulator()
	acc.addDelta(domain.StreamDelta{ToolCalls: []domain.ToolCall{
		{ID: "call_1", Name: "search", Arguments: []byte(`{"query":`)},
	}})
	acc.addDelta(domain.StreamDelta{ToolCalls: []domain.ToolCall{
		{Arguments: []byte(`"go"}`)},
	}})
	acc.addDelta(domain.StreamDelta{Content: "checking"})

	msg, _ := acc.build()
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(msg.ToolCalls))
	}
	tc := msg.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "search" {
		t.Errorf("tool call = %+v", tc)
	}
	if string(tc.Arguments) != `{"query":"go"}` {
		t.Errorf("arguments = %s", tc.Arguments)
	}
	if msg.Content != "checking" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestStreamAccumulatorRoutesParallelCallsByIndex(t *testing.T) {
	// Fragments for the second call arrive as single-element deltas carrying
	// index 1; routing them by array position would corrupt both calls.
	acc := newStreamAccumulator()
	acc.addDelta(domain.StreamDelta{ToolCalls: []domain.ToolCall{
		{Index: 0, ID: "call_1", Name: "search", Arguments: []byte(`{"query":`)},
	}})
	acc.addDelta(domain.StreamDelta{ToolCalls: []domain.ToolCall{
		{Index: 1, ID: "call_2", Name: "search", Arguments: []byte(`{"query":`)},
	}})
	acc.addDelta(domain.StreamDelta{ToolCalls: []domain.ToolCall{
		{Index: 1, Arguments: []byte(`"books"}`)},
	}})
	acc.addDelta(domain.StreamDelta{ToolCalls: []domain.ToolCall{
		{Index: 0, Arguments: []byte(`"articles"}`)},
	}})

	msg, _ := acc.build()
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(msg.ToolCalls))
	}
	first, second := msg.ToolCalls[0], msg.ToolCalls[1]
	if first.ID != "call_1" || string(first.Arguments) != `{"query":"articles"}` {
		t.Errorf("first call = %+v, arguments = %s", first, first.Arguments)
	}
	if second.ID != "call_2" || string(second.Arguments) != `{"query":"books"}` {
		t.Errorf("second call = %+v, arguments = %s", second, second.Arguments)
	}
}
