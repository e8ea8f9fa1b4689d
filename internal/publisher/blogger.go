package publisher

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/models"

	"golang.org/x/time/rate"
	"google.golang.org/api/blogger/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// API публикует через Blogger API v3.
type API struct {
	endpoint string
	limiter  *rate.Limiter
}

// NewAPI создаёт публикатор. Пустой endpoint означает боевой адрес Google.
func NewAPI(endpoint string, limiter *rate.Limiter) *API {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &API{endpoint: endpoint, limiter: limiter}
}

// Publish вставляет пост и возвращает его канонический URL.
func (a *API) Publish(ctx context.Context, cfg *models.PublisherConfig, post *models.Post) (string, error) {
	const op = "api publish"
	log := logger.Service("publisher").WithFields(cfg.LogFields()).WithField("post_id", post.ID)

	if err := a.limiter.Wait(ctx); err != nil {
		return "", models.NewError(models.KindTransport, op, err)
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := blogger.NewService(ctx, opts...)
	if err != nil {
		return "", models.NewError(models.KindTransport, op, err)
	}

	article := ArticleFromPost(post)
	inserted, err := svc.Posts.Insert(cfg.BlogID, &blogger.Post{
		Kind:    "blogger#post",
		Title:   article.Title,
		Content: FormatContentHTML(article.Content, article.Images),
		Labels:  article.Labels,
	}).Context(ctx).Do()
	if err != nil {
		err = redactURL(err)
		log.Warnf("Blogger insert failed: %v", err)
		return "", models.NewError(classifyGoogle(err), op, err)
	}
	if inserted.Url == "" {
		return "", models.Errorf(models.KindCollaboratorData, op, "blogger returned no post url")
	}

	log.WithField("url", inserted.Url).Info("Post published via API")
	return inserted.Url, nil
}

func classifyGoogle(err error) models.ErrorKind {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusTooManyRequests {
		return models.KindRateLimited
	}
	return models.KindTransport
}

// redactURL убирает query из URL транспортной ошибки: там лежит ключ API.
func redactURL(err error) error {
	var uErr *url.Error
	if !errors.As(err, &uErr) {
		return err
	}
	u, perr := url.Parse(uErr.URL)
	if perr != nil {
		uErr.URL = ""
		return err
	}
	u.RawQuery = ""
	uErr.URL = u.String()
	return err
}
