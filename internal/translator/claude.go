package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lnprox-router/internal/models"
)

var (
	errClaudeInvalidRole   = errors.New("invalid role")
	errClaudeInvalidSystem = errors.New("invalid system prompt")
)

// ClaudeMessageRequest models the Anthropic /v1/messages payload.
type ClaudeMessageRequest struct {
	Model     string
	MaxTokens *int
	Messages  []ClaudeMessage
	System    []string
	Stream    bool
}

// UnmarshalJSON enforces validation and normalises fields.
func (r *ClaudeMessageRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model     string          `json:"model"`
		MaxTokens *int            `json:"max_tokens"`
		Messages  []ClaudeMessage `json:"messages"`
		System    json.RawMessage `json:"system"`
		Stream    bool            `json:"stream"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode claude request: %w", err)
	}

	systemPrompts, err := parseClaudeSystem(raw.System)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.MaxTokens = raw.MaxTokens
	r.Messages = raw.Messages
	r.System = systemPrompts
	r.Stream = raw.Stream

	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return errInvalidTokens
	}
	return nil
}

// ToUnified converts the Claude request into the canonical format. System
// prompts become leading system messages.
func (r ClaudeMessageRequest) ToUnified() models.UnifiedChatRequest {
	msgs := make([]models.Message, 0, len(r.Messages)+len(r.System))

	for _, systemMsg := range r.System {
		msgs = append(msgs, models.Message{Role: "system", Content: systemMsg})
	}
	for _, m := range r.Messages {
		msgs = append(msgs, models.Message{Role: m.Role, Content: m.Content})
	}

	return models.UnifiedChatRequest{
		Model:     r.Model,
		Messages:  msgs,
		Stream:    r.Stream,
		MaxTokens: valueOrZero(r.MaxTokens),
	}
}

// ClaudeMessage represents a single message in the request payload.
type ClaudeMessage struct {
	Role    string
	Content string
}

// UnmarshalJSON normalises the Claude message content structure.
func (m *ClaudeMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode claude message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content

	switch m.Role {
	case "user", "assistant":
		return nil
	default:
		return fmt.Errorf("%w: %s", errClaudeInvalidRole, m.Role)
	}
}

func parseClaudeSystem(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			return nil, nil
		}
		return []string{single}, nil
	}

	var blocks []ClaudeTextBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("%w: %v", errClaudeInvalidSystem, err)
	}

	out := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block.Type != "" && block.Type != "text" {
			return nil, fmt.Errorf("%w: unsupported block type %q", errClaudeInvalidSystem, block.Type)
		}
		if strings.TrimSpace(block.Text) != "" {
			out = append(out, block.Text)
		}
	}
	return out, nil
}

// ClaudeMessageResponse models the Anthropic response payload.
type ClaudeMessageResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Model      string            `json:"model"`
	Content    []ClaudeTextBlock `json:"content"`
	StopReason string            `json:"stop_reason,omitempty"`
}

// ClaudeTextBlock represents a text content block.
type ClaudeTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// FromUnifiedClaude converts the unified response to Anthropic format.
func FromUnifiedClaude(modelID string, resp *models.UnifiedChatResponse) ClaudeMessageResponse {
	role := resp.Message.Role
	if role == "" {
		role = "assistant"
	}

	stopReason := resp.FinishReason
	if stopReason == "stop" {
		stopReason = "end_turn"
	}

	return ClaudeMessageResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  role,
		Model: modelID,
		Content: []ClaudeTextBlock{
			{Type: "text", Text: resp.Message.Content},
		},
		StopReason: stopReason,
	}
}
