package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"scholarbot/internal/domain"
)

// Assistant is the conversational entry point. It owns thread-to-session
// resolution and converts loop failures into polite user-facing replies, so
// callers (TUI, one-shot CLI) never see raw provider errors.
type Assistant struct {
	agent      *Agent
	store      *SessionStore
	logger     *slog.Logger
	classifier *ErrorClassifier
}

// NewAssistant creates an assistant over the given agent and session store.
func NewAssistant(agent *Agent, store *SessionStore, logger *slog.Logger) *Assistant {
	return &Assistant{
		agent:      agent,
		store:      store,
		logger:     logger,
		classifier: NewErrorClassifier(),
	}
}

// Chat runs one synchronous turn for the thread and returns the reply text.
// Errors from the loop are rendered as user-facing guidance, never returned;
// the returned error is reserved for context cancellation.
func (as *Assistant) Chat(ctx context.Context, threadID, userMsg string) (string, error) {
	session := as.store.GetOrCreate(threadID)

	reply, err := as.agent.HandleMessage(ctx, session, userMsg)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		as.logger.Error("chat turn failed", "thread_id", threadID, "error", err)
		return as.userFacingError(err), nil
	}
	return reply, nil
}

// StreamChat runs one streaming turn for the thread, forwarding model deltas
// to onDelta as they arrive. The returned string is the raw final reply.
func (as *Assistant) StreamChat(ctx context.Context, threadID, userMsg string, onDelta func(domain.StreamDelta)) (string, error) {
	session := as.store.GetOrCreate(threadID)

	reply, err := as.agent.HandleMessageStream(ctx, session, userMsg, onDelta)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		as.logger.Error("stream turn failed", "thread_id", threadID, "error", err)
		facing := as.userFacingError(err)
		if onDelta != nil {
			onDelta(domain.StreamDelta{Content: facing})
			onDelta(domain.StreamDelta{Done: true})
		}
		return facing, nil
	}
	return reply, nil
}

// Reset discards the thread's conversation history. The next turn starts a
// fresh session with a new system prompt.
func (as *Assistant) Reset(threadID string) {
	as.store.Delete(threadID)
	as.logger.Info("thread reset", "thread_id", threadID)
}

// userFacingError maps a loop failure to actionable reply text. The
// classifier resolves provider errors that carry no sentinel (status-code
// prefixes, transport strings) before the sentinel switch runs.
func (as *Assistant) userFacingError(err error) string {
	if cls := as.classifier.Classify(err); cls.Sentinel != nil && !errors.Is(err, cls.Sentinel) {
		err = fmt.Errorf("%w: %v", cls.Sentinel, cls.Original)
	}

	switch {
	case errors.Is(err, domain.ErrRateLimit):
		return "I'm currently experiencing high demand or your API quota has been exceeded. " +
			"Please check your OpenAI billing details at https://platform.openai.com/account/billing or try again later."
	case errors.Is(err, domain.ErrAuthInvalid):
		return "Your OpenAI API key appears to be invalid or missing. " +
			"Set the OPENAI_API_KEY environment variable with a valid key from https://platform.openai.com/api-keys."
	case errors.Is(err, domain.ErrModelNotFound):
		return "The configured model was not found. It may not exist or your account may not have access to it. " +
			"Please check the model name in your configuration."
	case errors.Is(err, domain.ErrMaxIterations):
		return "I wasn't able to complete that request within a reasonable number of steps. " +
			"Please try rephrasing your question."
	default:
		return fmt.Sprintf("Something went wrong: %v. Please try again or rephrase your question.", err)
	}
}
