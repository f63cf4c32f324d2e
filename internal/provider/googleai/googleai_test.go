package googleai

import (
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/stoa-labs/stoa/internal/provider"
)

func TestToGenkitMessages(t *testing.T) {
	t.Parallel()

	msgs := toGenkitMessages([]provider.Message{
		{Role: "user", Content: "I keep losing my temper"},
		{Role: "assistant", Content: "What precedes the anger?"},
		{Role: "model", Content: "Notice the first impression."},
		{Role: "", Content: "role-less defaults to user"},
	})

	if len(msgs) != 4 {
		t.Fatalf("converted %d messages, want 4", len(msgs))
	}

	wantRoles := []ai.Role{ai.RoleUser, ai.RoleModel, ai.RoleModel, ai.RoleUser}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message[%d] role = %q, want %q", i, msgs[i].Role, want)
		}
	}
	if got := msgs[0].Content[0].Text; got != "I keep losing my temper" {
		t.Errorf("message[0] text = %q", got)
	}
}

func TestNewRequiresDescriptorID(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Config{}, nil); err == nil {
		t.Fatal("New without descriptor id succeeded, want error")
	}
}
