package chat

// State 会话控制器所处的阶段。
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateSending       State = "sending"
)

// Snapshot is a read-only copy of a session handed to renderers after every mutation.
type Snapshot struct {
	SessionID    string      `json:"sessionId"`
	State        State       `json:"state"`
	Revision     uint64      `json:"revision"`
	Messages     []Message   `json:"messages"`
	Input        string      `json:"input"`
	Model        string      `json:"model"`
	Models       []ModelInfo `json:"models"`
	Loading      bool        `json:"loading"`
	Sending      bool        `json:"sending"`
	CanonicalURL string      `json:"canonicalUrl,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// StreamingMessage returns the in-flight assistant message, if any.
func (s Snapshot) StreamingMessage() (Message, bool) {
	for _, msg := range s.Messages {
		if msg.Streaming {
			return msg, true
		}
	}
	return Message{}, false
}

// NoticeLevel 通知的严重程度。
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible notification (toast) raised by a session.
type Notice struct {
	SessionID string      `json:"sessionId,omitempty"`
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
}
