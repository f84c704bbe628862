package models

// Role identifies the speaker of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of a case conversation. Messages are stored embedded in
// the case row, in order.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
