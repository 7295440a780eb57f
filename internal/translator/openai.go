package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lnprox-router/internal/models"
)

var (
	errEmptyModel     = errors.New("model must be provided")
	errEmptyMessages  = errors.New("at least one message is required")
	errInvalidRole    = errors.New("invalid role")
	errInvalidContent = errors.New("invalid message content")
	errInvalidTokens  = errors.New("max_tokens must be positive")
)

var allowedRoles = map[string]struct{}{
	"system":    {},
	"user":      {},
	"assistant": {},
	"tool":      {},
}

// ChatCompletionRequest models the subset of the OpenAI chat/completions
// payload the proxy understands. Sampling parameters are accepted and ignored.
type ChatCompletionRequest struct {
	Model     string
	Messages  []ChatMessage
	Stream    bool
	MaxTokens *int
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model               string        `json:"model"`
		Messages            []ChatMessage `json:"messages"`
		Stream              bool          `json:"stream"`
		MaxTokens           *int          `json:"max_tokens"`
		MaxCompletionTokens *int          `json:"max_completion_tokens"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	r.MaxTokens = raw.MaxTokens
	if r.MaxTokens == nil {
		r.MaxTokens = raw.MaxCompletionTokens
	}

	return r.validate()
}

func (r *ChatCompletionRequest) validate() error {
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

// ToUnified converts the OpenAI request into the canonical format.
func (r ChatCompletionRequest) ToUnified() models.UnifiedChatRequest {
	msgs := make([]models.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, models.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return models.UnifiedChatRequest{
		Model:     r.Model,
		Messages:  msgs,
		Stream:    r.Stream,
		MaxTokens: valueOrZero(r.MaxTokens),
	}
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content

	if _, ok := allowedRoles[m.Role]; !ok {
		return fmt.Errorf("%w: %s", errInvalidRole, m.Role)
	}
	return nil
}

// extractMessageContent accepts a plain string or a list of text parts.
// Empty text is passed through; the upstream decides what to do with it.
func extractMessageContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// ChatCompletionResponse models the OpenAI-compatible chat response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// FromUnifiedChat constructs the OpenAI response shape from the unified data.
func FromUnifiedChat(modelID string, createdUnix int64, resp *models.UnifiedChatResponse) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   modelID,
		Choices: []ChatChoice{
			{
				Index: 0,
				Message: ChatMessage{
					Role:    resp.Message.Role,
					Content: resp.Message.Content,
				},
				FinishReason: resp.FinishReason,
			},
		},
	}
}

// CompletionRequest models the legacy OpenAI text completions request payload.
type CompletionRequest struct {
	Model     string
	Prompt    string
	Stream    bool
	MaxTokens *int
}

// UnmarshalJSON performs validation for completion requests.
func (r *CompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model     string          `json:"model"`
		Prompt    json.RawMessage `json:"prompt"`
		Stream    bool            `json:"stream"`
		MaxTokens *int            `json:"max_tokens"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode completion request: %w", err)
	}

	prompt, err := extractPrompt(raw.Prompt)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Prompt = prompt
	r.Stream = raw.Stream
	r.MaxTokens = raw.MaxTokens

	if r.Model == "" {
		return errEmptyModel
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return errInvalidTokens
	}
	return nil
}

// ToUnified converts the completion request into unified form.
func (r CompletionRequest) ToUnified() models.UnifiedCompletionRequest {
	return models.UnifiedCompletionRequest{
		Model:     r.Model,
		Prompt:    r.Prompt,
		Stream:    r.Stream,
		MaxTokens: valueOrZero(r.MaxTokens),
	}
}

// CompletionResponse models the OpenAI completion response payload.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
}

// CompletionChoice represents a single completion choice.
type CompletionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// FromUnifiedCompletion converts unified completion data to OpenAI shape.
func FromUnifiedCompletion(modelID string, createdUnix int64, resp *models.UnifiedCompletionResponse) CompletionResponse {
	return CompletionResponse{
		ID:      resp.ID,
		Object:  "text_completion",
		Created: createdUnix,
		Model:   modelID,
		Choices: []CompletionChoice{
			{
				Text:         resp.Text,
				Index:        0,
				FinishReason: resp.FinishReason,
			},
		},
	}
}

// ModelList is the GET /v1/models payload.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}

// ModelCard describes one routable model.
type ModelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// NewModelList builds the model listing for the given IDs.
func NewModelList(ownedBy string, ids []string) ModelList {
	cards := make([]ModelCard, 0, len(ids))
	for _, id := range ids {
		cards = append(cards, ModelCard{ID: id, Object: "model", OwnedBy: ownedBy})
	}
	return ModelList{Object: "list", Data: cards}
}

// extractPrompt accepts a single string prompt. Arrays of prompts would be a
// batch, which the proxy does not serve.
func extractPrompt(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("prompt is required")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil && len(parts) == 1 {
		return parts[0], nil
	}

	return "", errors.New("prompt must be a single string")
}

func valueOrZero(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}
