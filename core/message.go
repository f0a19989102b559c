package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a ChatMessage.
type Role string

const (
	// RoleUser marks messages authored by the human user.
	RoleUser Role = "USER"
	// RoleAssistant marks messages authored by the model.
	RoleAssistant Role = "ASSISTANT"
	// RoleFunctionExecutor marks messages carrying tool execution results
	// fed back to the model.
	RoleFunctionExecutor Role = "FUNCTION_EXECUTOR"
)

// ToolCallRequest is a model-requested invocation of a named capability.
// CallID is unique within the batch that produced it, not globally.
type ToolCallRequest struct {
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
}

// ToolResult is the outcome of one completed tool call, recorded on
// FUNCTION_EXECUTOR messages so the conversation can react to it.
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ChatMessage is one entry in a session's append-only message log.
// Assistant messages may carry tool call requests; function executor
// messages carry the matching results.
type ChatMessage struct {
	ID          string            `json:"id"`
	Role        Role              `json:"role"`
	Content     string            `json:"content"`
	Timestamp   time.Time         `json:"timestamp"`
	ToolCalls   []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolResults []ToolResult      `json:"tool_results,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewID generates a unique identifier for messages, sessions and events.
func NewID() string { return uuid.NewString() }

// NewUserMessage constructs a user-authored text message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{ID: NewID(), Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage constructs an assistant message with optional tool call requests.
func NewAssistantMessage(content string, toolCalls []ToolCallRequest) ChatMessage {
	return ChatMessage{
		ID:        NewID(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
		ToolCalls: toolCalls,
	}
}

// NewToolResultMessage constructs a function executor message carrying the
// results of a completed tool call batch.
func NewToolResultMessage(results []ToolResult) ChatMessage {
	return ChatMessage{
		ID:          NewID(),
		Role:        RoleFunctionExecutor,
		Timestamp:   time.Now().UTC(),
		ToolResults: results,
	}
}
