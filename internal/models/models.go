package models

// Message represents a single conversational message in the unified schema.
type Message struct {
	Role    string
	Content string
}

// UnifiedChatRequest is the canonical representation of a chat completion.
type UnifiedChatRequest struct {
	Model     string
	Messages  []Message
	Stream    bool
	MaxTokens int
}

// UnifiedChatResponse captures a provider response in the unified schema.
type UnifiedChatResponse struct {
	ID           string
	Message      Message
	FinishReason string
	Payment      *Payment
}

// UnifiedCompletionRequest represents a text completion style request.
type UnifiedCompletionRequest struct {
	Model     string
	Prompt    string
	Stream    bool
	MaxTokens int
}

// UnifiedCompletionResponse captures a completion-style response.
type UnifiedCompletionResponse struct {
	ID           string
	Text         string
	FinishReason string
	Payment      *Payment
}

// Payment describes the invoice settled to release a response. Nil on
// responses that needed no payment.
type Payment struct {
	ChargeID   string
	AmountSats *int64
}

// Model identifies a known model with provider metadata.
type Model struct {
	ID       string
	Provider string
}
