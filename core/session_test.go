package core

import (
	"encoding/json"
	"testing"
)

func TestSession_RoundTrip(t *testing.T) {
	s := NewSession("s1", "/tmp/s1.json", 10)
	s.Metadata = SessionMetadata{
		Mode:      "chat",
		Model:     ModelConfig{Provider: "openai", Name: "gpt-4o-mini", Temperature: 0.2},
		Knowledge: []string{"docs/a.md"},
		Title:     "demo",
	}
	s.AppendMessage(NewUserMessage("hello"))
	s.AppendMessage(NewAssistantMessage("hi", []ToolCallRequest{{CallID: "c1", Name: "echo", Args: map[string]any{"text": "x"}}}))
	s.Status = StatusWaitingConfirmation
	s.CurrentTurn = 3

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Session
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != StatusWaitingConfirmation || got.CurrentTurn != 3 {
		t.Errorf("status/turn lost: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1].ToolCalls[0].CallID != "c1" {
		t.Errorf("messages lost: %+v", got.Messages)
	}
	if got.Metadata.Model.Name != "gpt-4o-mini" || got.Metadata.Title != "demo" {
		t.Errorf("metadata lost: %+v", got.Metadata)
	}
}

func TestSessionMetadata_LegacyModelString(t *testing.T) {
	var m SessionMetadata
	if err := json.Unmarshal([]byte(`{"mode":"chat","model":"gpt-4","title":"t"}`), &m); err != nil {
		t.Fatalf("unmarshal legacy form: %v", err)
	}
	if m.Model.Name != "gpt-4" {
		t.Errorf("legacy model not migrated: %+v", m.Model)
	}
	if m.Mode != "chat" || m.Title != "t" {
		t.Errorf("sibling fields lost: %+v", m)
	}
}

func TestSession_CloneIsIndependent(t *testing.T) {
	s := NewSession("s1", "loc", 5)
	s.AppendMessage(NewUserMessage("a"))
	clone := s.Clone()
	clone.AppendMessage(NewUserMessage("b"))
	if len(s.Messages) != 1 {
		t.Errorf("clone mutation leaked into original")
	}
}
