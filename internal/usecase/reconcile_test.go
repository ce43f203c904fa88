package usecase

import (
	"testing"

	"scholarbot/internal/domain"
)

func toolMsg(content string, isErr bool) domain.Message {
	return domain.Message{Role: domain.RoleTool, Name: "search", Content: content, IsError: isErr}
}

func finalMsg(content string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: content}
}

func TestReconcileNoToolOutput(t *testing.T) {
	turn := []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
	}
	got := ReconcileTurn(turn, finalMsg("hello"))
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestReconcileToolOutputPrecedesReply(t *testing.T) {
	turn := []domain.Message{
		{Role: domain.RoleUser, Content: "find books"},
		toolMsg("Found 3 resources (showing 3):", false),
	}
	got := ReconcileTurn(turn, finalMsg("Three books match."))

	want := "Found 3 resources (showing 3):\n\n---\n\nThree books match."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReconcileEmptyFinalKeepsToolOutput(t *testing.T) {
	turn := []domain.Message{
		toolMsg("Found 1 resources (showing 1):", false),
	}
	got := ReconcileTurn(turn, finalMsg(""))
	if got != "Found 1 resources (showing 1):" {
		t.Errorf("got %q", got)
	}
}

func TestReconcileSkipsErrorToolMessages(t *testing.T) {
	turn := []domain.Message{
		toolMsg("searching library: timeout", true),
		toolMsg("Found 1 resources (showing 1):", false),
	}
	got := ReconcileTurn(turn, finalMsg("One result."))

	want := "Found 1 resources (showing 1):\n\n---\n\nOne result."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReconcileMultipleToolOutputsInOrder(t *testing.T) {
	turn := []domain.Message{
		toolMsg("first batch", false),
		toolMsg("second batch", false),
	}
	got := ReconcileTurn(turn, finalMsg("Both searches done."))

	want := "first batch\n\nsecond batch\n\n---\n\nBoth searches done."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReconcileTrimsTrailingNewlines(t *testing.T) {
	turn := []domain.Message{
		toolMsg("results\n\n", false),
	}
	got := ReconcileTurn(turn, finalMsg("done"))

	want := "results\n\n---\n\ndone"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReconcileSkipsEmptyToolOutput(t *testing.T) {
	turn := []domain.Message{
		toolMsg("", false),
	}
	got := ReconcileTurn(turn, finalMsg("nothing ran"))
	if got != "nothing ran" {
		t.Errorf("got %q", got)
	}
}
