package fetcher

import (
	"bytes"
	"context"
	"html"
	"net/url"
	"regexp"
	"strings"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/models"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxImages   = 5
	MaxKeywords = 10
)

var articleSelectors = []string{
	"article a[href]",
	".post a[href]",
	".entry a[href]",
	"h2 a[href]",
	"h3 a[href]",
	".blog-post a[href]",
}

var excludePattern = regexp.MustCompile(`(?i)/tag/|/category/|/author/|/page/|/search/|/feed/|/rss/|#|/login|/register|/archive/`)

var (
	textPolicy = bluemonday.StrictPolicy()
	spaces     = regexp.MustCompile(`\s+`)
)

func (f *Fetcher) fromWebpage(ctx context.Context, pageURL string, body []byte, maxPosts int) ([]models.RawArticle, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "parse page: " + err.Error()
	}

	links := FindArticleLinks(doc, pageURL)
	if len(links) == 0 {
		article, ok := pageArticle(doc, pageURL, string(body))
		if !ok {
			return nil, "no readable content at " + pageURL
		}
		return []models.RawArticle{article}, ""
	}

	if len(links) > maxPosts {
		links = links[:maxPosts]
	}

	log := logger.Service("fetcher").WithField("url", pageURL)
	var articles []models.RawArticle
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		article, err := f.scrapeArticle(ctx, link)
		if err != nil {
			log.Debugf("Skip article %s: %v", link, err)
			continue
		}
		if article != nil {
			articles = append(articles, *article)
		}
	}
	if len(articles) == 0 {
		return nil, "no readable articles linked from " + pageURL
	}
	return articles, ""
}

func (f *Fetcher) scrapeArticle(ctx context.Context, link string) (*models.RawArticle, error) {
	body, err := f.get(ctx, link)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	article, ok := pageArticle(doc, link, string(body))
	if !ok {
		return nil, nil
	}
	return &article, nil
}

// pageArticle собирает статью из страницы: текст через readability,
// заголовок, картинки и ключевые слова из разметки.
func pageArticle(doc *goquery.Document, pageURL, rawHTML string) (models.RawArticle, bool) {
	content := ReadableText(rawHTML, pageURL)
	if content == "" {
		return models.RawArticle{}, false
	}
	return models.RawArticle{
		Title:     ExtractTitle(doc),
		Content:   content,
		SourceURL: pageURL,
		Images:    ImagesFromDocument(doc),
		Tags:      MetaKeywords(doc),
	}, true
}

// ReadableText возвращает основной текст страницы или пустую строку.
func ReadableText(rawHTML, pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsed)
	if err != nil {
		return ""
	}
	return collapse(article.TextContent)
}

// FindArticleLinks ищет ссылки на статьи того же хоста, сохраняя порядок.
func FindArticleLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	for _, sel := range articleSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			ref, err := url.Parse(strings.TrimSpace(href))
			if href == "" || err != nil {
				return
			}
			full := base.ResolveReference(ref)
			link := full.String()
			if full.Host != base.Host || excludePattern.MatchString(link) || seen[link] {
				return
			}
			seen[link] = true
			links = append(links, link)
		})
	}
	return links
}

// ExtractTitle: h1, затем og:title, затем <title>.
func ExtractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return "Untitled Post"
}

// MetaKeywords разбирает <meta name="keywords">.
func MetaKeywords(doc *goquery.Document) []string {
	content, ok := doc.Find(`meta[name="keywords"]`).Attr("content")
	if !ok {
		return nil
	}
	var keywords []string
	for _, k := range strings.Split(content, ",") {
		keywords = append(keywords, strings.TrimSpace(k))
	}
	return limitUnique(keywords, MaxKeywords)
}

// ImagesFromHTML возвращает абсолютные src/data-src картинок фрагмента.
func ImagesFromHTML(fragment string) []string {
	if strings.TrimSpace(fragment) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil
	}
	return ImagesFromDocument(doc)
}

func ImagesFromDocument(doc *goquery.Document) []string {
	var images []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" {
			src, _ = s.Attr("data-src")
		}
		if strings.HasPrefix(src, "http") {
			images = append(images, src)
		}
	})
	return limitUnique(images, MaxImages)
}

// CleanHTML убирает разметку и схлопывает пробелы.
func CleanHTML(raw string) string {
	if raw == "" {
		return ""
	}
	return collapse(html.UnescapeString(textPolicy.Sanitize(raw)))
}

func collapse(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func limitUnique(items []string, max int) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
		if len(out) == max {
			break
		}
	}
	return out
}
