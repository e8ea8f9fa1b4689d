package pipeline

import (
	"context"
	"strings"

	"blog_migrator/internal/models"
)

// Extractor достаёт статьи из исходного блога.
// Недоступный источник даёт пустой список и причину, а не ошибку.
type Extractor interface {
	Extract(ctx context.Context, sourceURL string, maxPosts int) ([]models.RawArticle, string)
}

// Rewriter переписывает статью через внешний сервис.
type Rewriter interface {
	Rewrite(ctx context.Context, title, content string) (models.RewrittenArticle, error)
}

// Publisher отправляет пост в блог назначения и возвращает его адрес.
type Publisher interface {
	Publish(ctx context.Context, cfg *models.PublisherConfig, post *models.Post) (string, error)
}

// ExtractReport итог извлечения одного источника.
type ExtractReport struct {
	SourceID   string `json:"source_id"`
	Fetched    int    `json:"fetched"`
	Created    int    `json:"created"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
}

// ExtractPosts превращает статьи источника в новые посты.
// Уже известные URL и повторы внутри пачки отбрасываются, битые статьи пропускаются и считаются.
func ExtractPosts(ctx context.Context, ex Extractor, src *models.Source, known map[string]bool, maxPosts int) ([]*models.Post, ExtractReport) {
	articles, reason := ex.Extract(ctx, src.URL, maxPosts)
	report := ExtractReport{SourceID: src.ID, Fetched: len(articles), Reason: reason}

	seen := make(map[string]bool, len(articles))
	var posts []*models.Post
	for _, a := range articles {
		a.SourceURL = strings.TrimSpace(a.SourceURL)
		if err := a.Validate(); err != nil {
			report.Skipped++
			continue
		}
		if known[a.SourceURL] || seen[a.SourceURL] {
			report.Duplicates++
			continue
		}
		seen[a.SourceURL] = true

		title := a.Title
		if title == "" {
			title = "Untitled Post"
		}
		posts = append(posts, &models.Post{
			SourceID:  src.ID,
			Title:     title,
			Content:   a.Content,
			SourceURL: a.SourceURL,
			Images:    nonNil(a.Images),
			Tags:      nonNil(a.Tags),
			Status:    models.StatusExtracted,
		})
	}
	return posts, report
}

// RewritePost вызывает Rewriter и возвращает изменения поста.
// При ошибке изменения описывают переход в failed, а ошибка возвращается вместе с ними.
func RewritePost(ctx context.Context, rw Rewriter, p *models.Post) (models.PostUpdate, error) {
	out, err := rw.Rewrite(ctx, p.Title, p.Content)
	if err == nil && (strings.TrimSpace(out.Title) == "" || strings.TrimSpace(out.Content) == "") {
		err = models.Errorf(models.KindCollaboratorData, "rewrite", "empty rewritten title or content")
	}
	if err != nil {
		err = classify("rewrite", err)
		return failure(models.StageRewrite, p, err), err
	}

	u := models.PostUpdate{
		Status:           models.StatusRewritten,
		RewrittenTitle:   &out.Title,
		RewrittenContent: &out.Content,
		MetaDescription:  &out.MetaDescription,
		SuggestedTags:    nonNil(out.SuggestedTags),
	}
	succeed(&u)
	return u, nil
}

// PublishPost публикует пост выбранным способом. Ссылка на конфигурацию
// сохраняется и при успехе, и при ошибке.
func PublishPost(ctx context.Context, pub Publisher, cfg *models.PublisherConfig, confidence models.PublishConfidence, p *models.Post) (models.PostUpdate, error) {
	configID := cfg.ID
	url, err := pub.Publish(ctx, cfg, p)
	if err == nil && url == "" && confidence == models.ConfidenceConfirmed {
		err = models.Errorf(models.KindCollaboratorData, "publish", "destination returned no post url")
	}
	if err != nil {
		err = classify("publish", err)
		u := failure(models.StagePublish, p, err)
		u.ConfigID = &configID
		return u, err
	}

	u := models.PostUpdate{
		Status:        models.StatusPublished,
		PublishedURL:  &url,
		Confidence:    &confidence,
		ConfigID:      &configID,
		ClearSchedule: true,
	}
	succeed(&u)
	return u, nil
}

func succeed(u *models.PostUpdate) {
	zero := 0
	u.Attempts = &zero
	u.ClearFailure()
}

func failure(stage models.Stage, p *models.Post, err error) models.PostUpdate {
	attempts := p.Attempts + 1
	u := models.PostUpdate{Attempts: &attempts}
	u.RecordFailure(stage, err)
	return u
}

// classify помечает неклассифицированные ошибки внешних сервисов как transport_error.
func classify(op string, err error) error {
	if models.KindOf(err) != "" {
		return err
	}
	return models.NewError(models.KindTransport, op, err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
