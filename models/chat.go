package models

// ChatRole identifies who authored a chat message.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleError     ChatRole = "error"
)

// ChatMessage is one entry in a conversation transcript. The content of the
// in-progress assistant message grows incrementally while a reply streams.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}
