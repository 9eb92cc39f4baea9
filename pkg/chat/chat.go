package chat

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single message in a completion conversation. The shape
// matches the OpenAI-style chat APIs the engine talks to.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System returns a system-role message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user-role message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant-role message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
