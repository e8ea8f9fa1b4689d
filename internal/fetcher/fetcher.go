package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/models"

	"github.com/mmcdole/gofeed"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxBodyBytes     = 10 << 20
)

// Fetcher извлекает статьи из блога: сначала как RSS/Atom, иначе со страницы.
type Fetcher struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
}

// New создаёт Fetcher. Нулевой timeout означает 10 секунд.
func New(userAgent string, timeout time.Duration) *Fetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		userAgent: userAgent,
	}
}

// Extract возвращает до maxPosts статей с sourceURL. Недоступный источник не
// ошибка: возвращается пустой список и причина.
func (f *Fetcher) Extract(ctx context.Context, sourceURL string, maxPosts int) ([]models.RawArticle, string) {
	log := logger.Service("fetcher").WithField("url", sourceURL)
	if maxPosts <= 0 {
		maxPosts = 10
	}

	body, err := f.get(ctx, sourceURL)
	if err != nil {
		log.Warnf("Fetch failed: %v", err)
		return nil, err.Error()
	}

	if articles := f.fromFeed(body, maxPosts); len(articles) > 0 {
		log.WithField("items_count", len(articles)).Info("Extracted articles from feed")
		return articles, ""
	}

	articles, reason := f.fromWebpage(ctx, sourceURL, body, maxPosts)
	log.WithField("items_count", len(articles)).Info("Extracted articles from webpage")
	return articles, reason
}

func (f *Fetcher) fromFeed(body []byte, maxPosts int) []models.RawArticle {
	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return feedArticles(feed, maxPosts)
}

func feedArticles(feed *gofeed.Feed, maxPosts int) []models.RawArticle {
	items := feed.Items
	if maxPosts > 0 && len(items) > maxPosts {
		items = items[:maxPosts]
	}

	articles := make([]models.RawArticle, 0, len(items))
	for _, item := range items {
		articles = append(articles, feedArticle(item))
	}
	return articles
}

func feedArticle(item *gofeed.Item) models.RawArticle {
	rawHTML := item.Content
	if rawHTML == "" {
		rawHTML = item.Description
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "Untitled"
	}

	var images []string
	if item.Image != nil {
		images = append(images, item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			images = append(images, enc.URL)
		}
	}
	images = append(images, ImagesFromHTML(item.Description+rawHTML)...)

	return models.RawArticle{
		Title:     title,
		Content:   CleanHTML(rawHTML),
		SourceURL: itemLink(item),
		Images:    limitUnique(images, MaxImages),
		Tags:      limitUnique(item.Categories, MaxKeywords),
	}
}

// itemLink берёт Link, иначе GUID, если он похож на URL.
func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	if strings.HasPrefix(item.GUID, "http") {
		return item.GUID
	}
	return ""
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
