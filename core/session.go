package core

import (
	"encoding/json"
	"time"
)

// SessionStatus reflects what a session is currently doing.
type SessionStatus string

const (
	// StatusIdle means no turn is in flight.
	StatusIdle SessionStatus = "idle"
	// StatusProcessing means a turn is executing (model call or tools).
	StatusProcessing SessionStatus = "processing"
	// StatusWaitingConfirmation means at least one tool call awaits approval.
	StatusWaitingConfirmation SessionStatus = "waiting_confirmation"
	// StatusMaxTurnsReached means the turn budget is exhausted.
	StatusMaxTurnsReached SessionStatus = "max_turns_reached"
)

// ModelConfig is the structured model configuration attached to a session.
type ModelConfig struct {
	Provider    string  `json:"provider,omitempty"`
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`
}

// SessionMetadata carries user-facing session attributes.
//
// The model field historically round-tripped as a bare string naming the
// model. Loading still accepts that form and migrates it into ModelConfig;
// saving always writes the structured form.
type SessionMetadata struct {
	Mode      string      `json:"mode,omitempty"`
	Model     ModelConfig `json:"model"`
	Knowledge []string    `json:"knowledge,omitempty"`
	Title     string      `json:"title,omitempty"`
}

// UnmarshalJSON accepts both the structured model config and the legacy
// single-string model field.
func (m *SessionMetadata) UnmarshalJSON(data []byte) error {
	type alias SessionMetadata
	aux := struct {
		*alias
		Model json.RawMessage `json:"model"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Model) == 0 {
		return nil
	}
	var name string
	if err := json.Unmarshal(aux.Model, &name); err == nil {
		m.Model = ModelConfig{Name: name}
		return nil
	}
	return json.Unmarshal(aux.Model, &m.Model)
}

// Session is the serializable conversation record. While resident in the
// pool exactly one turn engine owns it; everything here must survive a
// save/load round trip losslessly.
type Session struct {
	ID             string          `json:"id"`
	StorageLocator string          `json:"storage_locator"`
	Messages       []ChatMessage   `json:"messages"`
	Status         SessionStatus   `json:"status"`
	CurrentTurn    int             `json:"current_turn"`
	MaxTurns       int             `json:"max_turns"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Metadata       SessionMetadata `json:"metadata"`
}

// NewSession creates an empty idle session bound to a storage locator.
func NewSession(id, locator string, maxTurns int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             id,
		StorageLocator: locator,
		Messages:       []ChatMessage{},
		Status:         StatusIdle,
		MaxTurns:       maxTurns,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AppendMessage adds a message to the log and bumps UpdatedAt.
func (s *Session) AppendMessage(msg ChatMessage) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Messages = make([]ChatMessage, len(s.Messages))
	copy(clone.Messages, s.Messages)
	clone.Metadata.Knowledge = append([]string(nil), s.Metadata.Knowledge...)
	return &clone
}
