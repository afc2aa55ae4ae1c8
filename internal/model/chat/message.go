package chat

import "time"

// Role 表示一条消息在对话中的角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation as rendered by the frontend.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Streaming bool      `json:"streaming"`
	CreatedAt time.Time `json:"createdAt"`
}

// ModelInfo is an entry of the remote model catalog.
type ModelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnedBy string `json:"ownedBy,omitempty"`
	Created int64  `json:"created,omitempty"`
}

// Config is the flat configuration record supplied by the frontend.
type Config struct {
	OllamaURL    string `json:"ollamaUrl"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}
