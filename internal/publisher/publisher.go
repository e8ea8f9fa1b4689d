package publisher

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"blog_migrator/internal/models"
)

const (
	MaxLabels    = 20
	maxAPIImages = 3
)

var labelChars = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

// Article то, что уходит в блог: заголовок, текст, метки и картинки.
type Article struct {
	Title   string
	Content string
	Labels  []string
	Images  []string
}

// ArticleFromPost берёт переписанные поля, если они есть.
func ArticleFromPost(p *models.Post) Article {
	content := p.RewrittenContent
	if content == "" {
		content = p.Content
	}
	return Article{
		Title:   p.DisplayTitle(),
		Content: content,
		Labels:  FormatLabels(p.PublishTags()),
		Images:  p.Images,
	}
}

// FormatLabels оставляет не больше 20 меток из букв, цифр и пробелов.
func FormatLabels(tags []string) []string {
	if len(tags) > MaxLabels {
		tags = tags[:MaxLabels]
	}
	var labels []string
	for _, t := range tags {
		if clean := strings.TrimSpace(labelChars.ReplaceAllString(t, "")); clean != "" {
			labels = append(labels, clean)
		}
	}
	return labels
}

// FormatContentHTML превращает абзацы в <p> и добавляет до трёх картинок.
func FormatContentHTML(content string, images []string) string {
	var b strings.Builder
	for _, para := range strings.Split(content, "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(para))
		}
	}
	if len(images) > 0 {
		if len(images) > maxAPIImages {
			images = images[:maxAPIImages]
		}
		b.WriteString("<div class=\"post-images\">\n")
		for _, img := range images {
			fmt.Fprintf(&b, "<img src=\"%s\" alt=\"Post image\" style=\"max-width: 100%%; height: auto; margin: 10px 0;\" />\n",
				html.EscapeString(img))
		}
		b.WriteString("</div>\n")
	}
	return b.String()
}

// ValidateConfig проверяет конфигурацию и возвращает предупреждения,
// которые не мешают публикации.
func ValidateConfig(cfg *models.PublisherConfig) (warnings []string, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PublishMethod == models.MethodAPI && !models.ValidBlogID(cfg.BlogID) {
		warnings = append(warnings, fmt.Sprintf("blog id %q is not numeric", cfg.BlogID))
	}
	return warnings, nil
}
