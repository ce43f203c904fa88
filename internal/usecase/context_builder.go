package usecase

import (
	"scholarbot/internal/domain"
)

// defaultMaxContextTokens is the request-side token budget when none is
// configured.
const defaultMaxContextTokens = 16000

// ContextBuilder assembles the ChatRequest for LLM calls from a session's
// history. The history already carries the system message at its head; the
// builder never mutates it, only trims the request view when the token
// budget is exceeded.
type ContextBuilder struct {
	model       string
	temperature float64
	maxTokens   int
	counter     *TokenCounter
}

// NewContextBuilder creates a context builder for the given model.
func NewContextBuilder(model string, temperature float64, maxTokens int) *ContextBuilder {
	if maxTokens <= 0 {
		maxTokens = defaultMaxContextTokens
	}
	return &ContextBuilder{
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		counter:     NewTokenCounter(model),
	}
}

// Build assembles the chat request from history and tool schemas.
func (cb *ContextBuilder) Build(history []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	return domain.ChatRequest{
		Model:       cb.model,
		Messages:    cb.fitBudget(history),
		Tools:       tools,
		Temperature: cb.temperature,
	}
}

// fitBudget drops the oldest message groups until the estimated token count
// fits the budget. The system message at the head is always kept, as is the
// most recent group. Groups keep an assistant tool request and its tool
// results atomic so the provider never sees a broken tool chain.
func (cb *ContextBuilder) fitBudget(history []domain.Message) []domain.Message {
	if len(history) == 0 || cb.counter.CountMessages(history) <= cb.maxTokens {
		return history
	}

	var head []domain.Message
	rest := history
	if history[0].Role == domain.RoleSystem {
		head = history[:1]
		rest = history[1:]
	}

	groups := groupMessages(rest)
	budget := cb.maxTokens - cb.counter.CountMessages(head)

	// Keep groups from the end while they fit; the newest group is kept
	// even when it alone exceeds the budget.
	var kept [][]domain.Message
	total := 0
	for i := len(groups) - 1; i >= 0; i-- {
		groupTokens := cb.counter.CountMessages(groups[i])
		if total+groupTokens > budget && total > 0 {
			break
		}
		kept = append(kept, groups[i])
		total += groupTokens
	}

	// Reverse to restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	result := make([]domain.Message, 0, len(history))
	result = append(result, head...)
	for _, g := range kept {
		result = append(result, g...)
	}
	return result
}

// groupMessages partitions messages into atomic groups. An assistant message
// with tool calls and its immediately following tool result messages form a
// single group; all other messages are individual groups.
func groupMessages(msgs []domain.Message) [][]domain.Message {
	var groups [][]domain.Message
	i := 0
	for i < len(msgs) {
		msg := msgs[i]
		if msg.Role == domain.RoleAssistant && len(msg.ToolCalls) > 0 {
			group := []domain.Message{msg}
			j := i + 1
			for j < len(msgs) && msgs[j].Role == domain.RoleTool {
				group = append(group, msgs[j])
				j++
			}
			groups = append(groups, group)
			i = j
		} else {
			groups = append(groups, []domain.Message{msg})
			i++
		}
	}
	return groups
}
