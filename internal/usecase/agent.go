package usecase

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"scholarbot/internal/domain"
	"scholarbot/internal/infra/tracer"
)

// Recovery loop constants.
const (
	maxLLMRetries  = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM            domain.LLMProvider
	Tools          domain.ToolExecutor
	ContextBuilder *ContextBuilder
	Logger         *slog.Logger
	MaxIterations  int
	SystemPrompt   string           // defaults to DefaultSystemPrompt
	Classifier     *ErrorClassifier // optional, nil = no retry on LLM errors
}

// Agent orchestrates the tool-call loop: call the model, execute any tool
// calls it requests, feed results back, repeat until a plain reply or the
// iteration bound is hit.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 8
	}
	if deps.SystemPrompt == "" {
		deps.SystemPrompt = DefaultSystemPrompt
	}
	return &Agent{deps: deps}
}

// HandleMessage processes a single user message through the agent loop and
// returns the reconciled reply text.
func (a *Agent) HandleMessage(ctx context.Context, session *Session, userMsg string) (string, error) {
	return a.handleInner(ctx, session, userMsg, nil)
}

// HandleMessageStream processes a user message with incremental delivery:
// each model chunk is passed to onDelta as it arrives. The returned string is
// the raw final reply; streamed turns are not reconciled against tool output,
// the deltas are the delivery. If the provider does not support streaming it
// falls back to the synchronous path and emits the full reply as one delta.
func (a *Agent) HandleMessageStream(ctx context.Context, session *Session, userMsg string, onDelta func(domain.StreamDelta)) (string, error) {
	sp, canStream := a.deps.LLM.(domain.StreamingLLMProvider)
	if !canStream {
		result, err := a.HandleMessage(ctx, session, userMsg)
		if err == nil && onDelta != nil {
			onDelta(domain.StreamDelta{Content: result})
			onDelta(domain.StreamDelta{Done: true})
		}
		return result, err
	}
	return a.handleInner(ctx, session, userMsg, &streamSink{provider: sp, onDelta: onDelta})
}

// streamSink bundles the streaming provider with the caller's delta callback.
type streamSink struct {
	provider domain.StreamingLLMProvider
	onDelta  func(domain.StreamDelta)
}

func (s *streamSink) emit(delta domain.StreamDelta) {
	if s.onDelta != nil {
		s.onDelta(delta)
	}
}

// handleInner is the shared agent loop for both sync and streaming modes.
// When sink is non-nil the model is called via ChatStream and deltas are
// forwarded; when nil, Chat is used and the final reply is reconciled with
// the turn's tool output.
func (a *Agent) handleInner(ctx context.Context, session *Session, userMsg string, sink *streamSink) (string, error) {
	streaming := sink != nil

	spanName := "agent.handle_message"
	opName := "Agent.HandleMessage"
	if streaming {
		spanName = "agent.handle_message_stream"
		opName = "Agent.HandleMessageStream"
	}

	ctx, span := tracer.StartSpan(ctx, spanName)
	defer span.End()

	// One in-flight turn per thread; later calls queue behind earlier ones.
	session.BeginTurn()
	defer session.EndTurn()

	ctx = domain.ContextWithThreadID(ctx, session.ThreadID)

	// The first turn on a thread seeds the system prompt. It is appended
	// exactly once; every later turn reuses it from the log.
	if !session.HasSystemMessage() {
		session.AddMessage(domain.Message{
			Role:      domain.RoleSystem,
			Content:   a.deps.SystemPrompt,
			Timestamp: time.Now(),
		})
	}

	// turnStart marks where this turn's messages begin, so reconciliation
	// sees only the current turn's tool output.
	turnStart := session.Len()

	session.AddMessage(domain.Message{
		Role:      domain.RoleUser,
		Content:   userMsg,
		Timestamp: time.Now(),
	})

	var totalUsage domain.Usage

	for i := 0; i < a.deps.MaxIterations; i++ {
		if ctx.Err() != nil {
			return "", domain.WrapOp(opName, ctx.Err())
		}

		span.AddEvent("agent.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		chatReq := a.deps.ContextBuilder.Build(session.Messages(), a.deps.Tools.Schemas())

		msg, usage, llmErr := a.callLLMWithRetry(ctx, chatReq, sink, i)
		if llmErr != nil {
			tracer.RecordError(span, llmErr)
			return "", llmErr
		}

		totalUsage.PromptTokens += usage.PromptTokens
		totalUsage.CompletionTokens += usage.CompletionTokens
		totalUsage.TotalTokens += usage.TotalTokens

		session.AddMessage(msg)

		logMsg := "llm response"
		if streaming {
			logMsg = "llm stream response"
		}
		a.deps.Logger.Debug(logMsg,
			"thread_id", session.ThreadID,
			"iteration", i,
			"tool_calls", len(msg.ToolCalls),
			"tokens", usage.TotalTokens,
		)

		// No tool calls = final response.
		if len(msg.ToolCalls) == 0 {
			tracer.SetOK(span)
			if streaming {
				return msg.Content, nil
			}
			return ReconcileTurn(session.MessagesFrom(turnStart), msg), nil
		}

		// Execute tool calls in parallel. Results land in an indexed slice so
		// the append order matches the model's request order.
		toolMsgs := make([]domain.Message, len(msg.ToolCalls))
		var wg sync.WaitGroup
		for idx, call := range msg.ToolCalls {
			wg.Add(1)
			go func(idx int, c domain.ToolCall) {
				defer wg.Done()
				toolMsgs[idx] = a.executeTool(ctx, c)
			}(idx, call)
		}
		wg.Wait()
		for _, toolMsg := range toolMsgs {
			session.AddMessage(toolMsg)
		}
	}

	tracer.RecordError(span, domain.ErrMaxIterations)
	return "", domain.NewDomainError(opName, domain.ErrMaxIterations, "")
}

// executeTool runs a single tool call and returns the result as a Message.
// Tool failures become error-flagged tool messages, not turn failures: the
// model sees the error text and can recover or explain.
func (a *Agent) executeTool(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	toolMsg := domain.Message{
		Role: domain.RoleTool,
		Name: call.Name,
		ToolCalls: []domain.ToolCall{{
			ID:   call.ID,
			Name: call.Name,
		}},
		Timestamp: time.Now(),
	}

	tool, err := a.deps.Tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		toolMsg.Content = err.Error()
		toolMsg.IsError = true
		return toolMsg
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		tracer.RecordError(span, err)
		a.deps.Logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		toolMsg.Content = err.Error()
		toolMsg.IsError = true
		return toolMsg
	}

	tracer.SetOK(span)
	toolMsg.Content = result.Content
	toolMsg.IsError = result.IsError
	return toolMsg
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

// callLLMWithRetry performs one model call with retry on transient failures
// (5xx, transport errors). Rate-limit and quota failures are never retried
// within a turn; they surface immediately so the user gets retry-later
// guidance instead of a stalled turn. When sink is non-nil it uses ChatStream
// and accumulates deltas; otherwise it uses Chat directly.
func (a *Agent) callLLMWithRetry(
	ctx context.Context,
	chatReq domain.ChatRequest,
	sink *streamSink,
	iteration int,
) (domain.Message, domain.Usage, error) {
	streaming := sink != nil

	maxAttempts := 1
	if a.deps.Classifier != nil {
		maxAttempts = maxLLMRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var msg domain.Message
		var usage domain.Usage
		var callErr error

		if streaming {
			llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_stream")
			deltaCh, err := sink.provider.ChatStream(llmCtx, chatReq)
			llmSpan.End()

			if err != nil {
				callErr = err
			} else {
				acc := newStreamAccumulator()
				for delta := range deltaCh {
					acc.addDelta(delta)
					sink.emit(delta)
				}
				msg, usage = acc.build()
			}
		} else {
			llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call")
			resp, err := a.deps.LLM.Chat(llmCtx, chatReq)
			llmSpan.End()

			if err != nil {
				callErr = err
			} else {
				msg = resp.Message
				usage = resp.Usage
			}
		}

		if callErr == nil {
			return msg, usage, nil
		}
		lastErr = callErr

		// No classifier → fail immediately.
		if a.deps.Classifier == nil {
			return domain.Message{}, domain.Usage{}, lastErr
		}

		classified := a.deps.Classifier.Classify(callErr)
		if classified.Category != ErrorCategoryRetryable {
			return domain.Message{}, domain.Usage{}, lastErr
		}

		if attempt < maxAttempts-1 {
			delay := retryBackoff(attempt)
			mode := "LLM call"
			if streaming {
				mode = "LLM stream"
			}
			a.deps.Logger.Info("retrying "+mode+" after error",
				"iteration", iteration, "attempt", attempt+1, "delay", delay, "error", callErr)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return domain.Message{}, domain.Usage{}, ctx.Err()
			}
		}
	}

	return domain.Message{}, domain.Usage{}, lastErr
}

// maxStreamToolCalls limits the number of tool call slots the accumulator
// will allocate. Indices beyond this bound are silently dropped to prevent
// memory exhaustion from malformed streaming deltas.
const maxStreamToolCalls = 50

// streamAccumulator collects incremental deltas into a complete message.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall // accumulated by index
	usage     domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

// addDelta merges a single streaming delta into the accumulator.
// Tool calls are keyed by their Index field, not by position: the wire
// protocol delivers argument fragments for a later parallel call as a
// single-element array carrying its index. The first fragment for an index
// provides ID and Name; subsequent fragments append to Arguments.
func (acc *streamAccumulator) addDelta(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for _, tc := range delta.ToolCalls {
		idx := tc.Index
		if idx < 0 || idx >= maxStreamToolCalls {
			continue
		}

		// Grow slice to accommodate this index.
		for len(acc.toolCalls) <= idx {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
		}

		existing := &acc.toolCalls[idx]
		if tc.ID != "" {
			existing.ID = tc.ID
		}
		if tc.Name != "" {
			existing.Name = tc.Name
		}
		if len(tc.Arguments) > 0 {
			existing.Arguments = append(existing.Arguments, tc.Arguments...)
		}
	}

	if delta.Usage != nil {
		acc.usage.PromptTokens = delta.Usage.PromptTokens
		acc.usage.CompletionTokens = delta.Usage.CompletionTokens
		acc.usage.TotalTokens = delta.Usage.TotalTokens
	}
}

// build returns the accumulated message and usage.
func (acc *streamAccumulator) build() (domain.Message, domain.Usage) {
	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: acc.toolCalls,
		Timestamp: time.Now(),
	}
	return msg, acc.usage
}
