package playlist

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/dkoval/showtracks/internal/models"
)

// Describer writes a short playlist description with an LLM. It is
// entirely optional: callers fall back to a deterministic description when
// it is unconfigured or failing.
type Describer struct {
	client *openai.Client
}

// NewDescriber returns nil when no API key is configured, which disables
// generated descriptions.
func NewDescriber(apiKey string) *Describer {
	if apiKey == "" {
		return nil
	}
	return &Describer{client: openai.NewClient(apiKey)}
}

func (d *Describer) Describe(ctx context.Context, params models.SearchParams) (string, error) {
	prompt := fmt.Sprintf(
		"Write one short, friendly sentence (max 160 characters, no emojis, no quotes) describing a playlist of artists playing live in %s on %s.",
		params.LocationName, params.Date)
	if len(params.ExcludedGenres) > 0 {
		prompt += fmt.Sprintf(" The listener excluded these genres: %s.", strings.Join(params.ExcludedGenres, ", "))
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     openai.GPT4oMini,
		MaxTokens: 80,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	desc := strings.TrimSpace(resp.Choices[0].Message.Content)
	if len(desc) > 300 {
		desc = desc[:300]
	}
	return desc, nil
}
