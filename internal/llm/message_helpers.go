package llm

import (
	"strings"

	"github.com/pkg/errors"
)

// Role identifies an inbound message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation. The concrete types are
// SystemMessage, UserMessage, AssistantMessage and ToolResultsMessage;
// adapters switch over them exhaustively.
type Message interface {
	isMessage()
}

// SystemMessage carries a caller-supplied system-role message.
type SystemMessage struct {
	Text string
}

// UserMessage is plain user input.
type UserMessage struct {
	Text string
}

// AssistantMessage is a model turn: its text and the tool calls it made.
type AssistantMessage struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolResultsMessage carries the results of every tool call of the
// preceding assistant turn, in call order.
type ToolResultsMessage struct {
	Results []ToolResult
}

func (SystemMessage) isMessage()      {}
func (UserMessage) isMessage()        {}
func (AssistantMessage) isMessage()   {}
func (ToolResultsMessage) isMessage() {}

// TextMessage builds a message from an inbound role/content pair.
func TextMessage(role Role, content string) (Message, error) {
	switch Role(strings.ToLower(strings.TrimSpace(string(role)))) {
	case RoleSystem:
		return SystemMessage{Text: content}, nil
	case RoleUser:
		return UserMessage{Text: content}, nil
	case RoleAssistant:
		return AssistantMessage{Text: content}, nil
	default:
		return nil, errors.Errorf("unsupported message role: %q", role)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
