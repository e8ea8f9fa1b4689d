package rewriter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"blog_migrator/internal/config"
	"blog_migrator/internal/logger"
	"blog_migrator/internal/models"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

	defaultMaxTokens = 4096
)

// Completer отправляет один промпт модели и возвращает текст ответа.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

// Rewriter переписывает статьи через Completer с ограничением частоты запросов.
type Rewriter struct {
	completer Completer
	limiter   *rate.Limiter
	opts      Options
}

// New создаёт Rewriter. requestsPerMinute <= 0 снимает ограничение.
func New(c Completer, requestsPerMinute int, opts Options) *Rewriter {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return &Rewriter{completer: c, limiter: limiter, opts: opts}
}

// NewFromConfig выбирает провайдера по cfg.Provider.
func NewFromConfig(cfg config.RewriteConfig) (*Rewriter, error) {
	key := cfg.Key()
	if key == "" {
		return nil, models.Errorf(models.KindValidation, "rewriter", "no API key for provider %s", cfg.Provider)
	}

	var c Completer
	switch cfg.Provider {
	case config.ProviderOpenAI:
		c = NewOpenAI(key, cfg.Model, cfg.BaseURL)
	case config.ProviderGemini:
		base := cfg.BaseURL
		if base == "" {
			base = GeminiBaseURL
		}
		c = NewOpenAI(key, cfg.Model, base)
	case config.ProviderAnthropic:
		c = NewAnthropic(key, cfg.Model, defaultMaxTokens)
	default:
		return nil, models.Errorf(models.KindValidation, "rewriter", "unknown provider %s", cfg.Provider)
	}
	return New(c, cfg.RequestsPerMinute, DefaultOptions()), nil
}

// Rewrite возвращает переписанную статью. Ошибки несут вид:
// rate_limited, transport_error или collaborator_data_error для пустого ответа.
func (r *Rewriter) Rewrite(ctx context.Context, title, content string) (models.RewrittenArticle, error) {
	const op = "rewrite"
	log := logger.Service("rewriter").WithField("provider", r.completer.Name())

	if err := r.limiter.Wait(ctx); err != nil {
		return models.RewrittenArticle{}, models.NewError(models.KindTransport, op, err)
	}

	start := time.Now()
	text, err := r.completer.Complete(ctx, systemPrompt, BuildPrompt(title, content, r.opts))
	if err != nil {
		log.WithField("duration", time.Since(start).String()).Warnf("Completion failed: %v", err)
		if models.KindOf(err) == "" {
			err = models.NewError(models.KindTransport, op, err)
		}
		return models.RewrittenArticle{}, err
	}

	article := ParseResponse(text)
	if strings.TrimSpace(article.Title) == "" || strings.TrimSpace(article.Content) == "" {
		return models.RewrittenArticle{}, models.Errorf(models.KindCollaboratorData, op,
			"response has no rewritten title or content")
	}

	log.WithFields(logger.Fields{
		"duration": time.Since(start).String(),
		"tags":     len(article.SuggestedTags),
	}).Debug("Article rewritten")
	return article, nil
}

// OpenAI работает с OpenAI и совместимыми API (Gemini).
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	const op = "openai completion"
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", models.NewError(classifyOpenAI(err), op, err)
	}
	if len(resp.Choices) == 0 {
		return "", models.Errorf(models.KindCollaboratorData, op, "no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAI(err error) models.ErrorKind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindForStatus(reqErr.HTTPStatusCode)
	}
	return models.KindTransport
}

func kindForStatus(code int) models.ErrorKind {
	if code == http.StatusTooManyRequests {
		return models.KindRateLimited
	}
	return models.KindTransport
}
