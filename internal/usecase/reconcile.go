package usecase

import (
	"fmt"
	"strings"

	"scholarbot/internal/domain"
)

// replySeparator sits between the collected tool output and the model's own
// closing text in a reconciled reply.
const replySeparator = "---"

// ReconcileTurn assembles the user-visible reply for a completed turn.
//
// The model may, after seeing tool results, produce a final reply that asks a
// follow-up and omits restating the results. Reconciliation guarantees that
// search output produced during the turn always surfaces: turn is the message
// slice from the turn's user message to the end, and final is the model's
// terminal message.
//
// Successful tool outputs are concatenated in order, separated by blank
// lines. When present, they lead the reply; the model's non-empty final text
// follows after a separator line. With no tool output, the reply is the
// final text alone (or a stringified fallback for a non-text message).
// Failed tool executions are excluded: their payloads exist for the model to
// react to, not for the user.
func ReconcileTurn(turn []domain.Message, final domain.Message) string {
	var outputs []string
	for _, m := range turn {
		if m.Role == domain.RoleTool && !m.IsError && m.Content != "" {
			outputs = append(outputs, strings.TrimRight(m.Content, "\n"))
		}
	}

	finalText := strings.TrimSpace(final.Content)

	if len(outputs) == 0 {
		if final.Role != domain.RoleAssistant {
			return fmt.Sprintf("%v", final.Content)
		}
		return finalText
	}

	combined := strings.Join(outputs, "\n\n")
	if finalText == "" {
		return combined
	}
	return combined + "\n\n" + replySeparator + "\n\n" + finalText
}
