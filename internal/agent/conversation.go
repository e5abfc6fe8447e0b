package agent

import "strings"

// Role is the speaker of one conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of a task conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the append-only history of one invocation.
type Conversation []Turn

// Append adds a turn.
func (c *Conversation) Append(role Role, content string) {
	*c = append(*c, Turn{Role: role, Content: content})
}

// Prompt serializes the conversation as "role: content" entries
// separated by a blank line.
func (c Conversation) Prompt() string {
	var b strings.Builder
	for i, t := range c {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}
