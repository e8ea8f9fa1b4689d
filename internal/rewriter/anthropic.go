package rewriter

import (
	"context"
	"strings"

	"blog_migrator/internal/models"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

// Anthropic вызывает Messages API через llmkit.
type Anthropic struct {
	apiKey    string
	model     string
	maxTokens int
}

func NewAnthropic(apiKey, model string, maxTokens int) *Anthropic {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &Anthropic{apiKey: apiKey, model: model, maxTokens: maxTokens}
}

func (a *Anthropic) Name() string { return "anthropic" }

// Complete не прерывается по ctx: llmkit не принимает контекст,
// поэтому проверяем его только до отправки.
func (a *Anthropic) Complete(ctx context.Context, system, prompt string) (string, error) {
	const op = "anthropic completion"
	if err := ctx.Err(); err != nil {
		return "", models.NewError(models.KindTransport, op, err)
	}

	settings := types.RequestSettings{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: 0.7,
	}
	response, err := anthropic.PromptWithSettings(system, prompt, "", a.apiKey, settings)
	if err != nil {
		return "", models.NewError(classifyMessage(err.Error()), op, err)
	}
	if len(response.Content) == 0 {
		return "", models.Errorf(models.KindCollaboratorData, op, "no content in response")
	}
	return response.Content[0].Text, nil
}

// classifyMessage распознаёт превышение квоты по тексту ошибки llmkit.
func classifyMessage(msg string) models.ErrorKind {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "429") || strings.Contains(lower, "rate_limit") || strings.Contains(lower, "rate limit") {
		return models.KindRateLimited
	}
	return models.KindTransport
}
