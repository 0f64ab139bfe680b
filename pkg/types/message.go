package types

// MessageRole identifies the author of a message in an LLM conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single turn in an LLM conversation.
type Message struct {
	// Metadata holds optional additional information about the message.
	Metadata map[string]interface{}

	// Content is the text content of the message.
	Content string

	// Role identifies who authored the message.
	Role MessageRole
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// WithMetadata adds metadata to the message and returns it for chaining.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}

// ModelInfo describes the LLM model behind a provider.
type ModelInfo struct {
	// Metadata holds provider-specific details (e.g. a non-default base URL).
	Metadata map[string]interface{}

	// Provider is the provider family name ("openai", "anthropic").
	Provider string

	// Name is the model identifier.
	Name string

	// MaxTokens is the model's context window size, when known.
	MaxTokens int

	// SupportsStreaming indicates whether the provider can stream responses.
	SupportsStreaming bool
}
