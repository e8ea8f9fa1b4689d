package rewriter

import (
	"fmt"
	"strings"

	"blog_migrator/internal/models"
)

const maxMetaLength = 160

// Options выбирает, что просить у модели помимо переписанного текста.
type Options struct {
	OptimizeSEO        bool
	ImproveReadability bool
	GenerateMeta       bool
	SuggestTags        bool
}

func DefaultOptions() Options {
	return Options{OptimizeSEO: true, ImproveReadability: true, GenerateMeta: true, SuggestTags: true}
}

const systemPrompt = "You are an expert content writer and SEO specialist."

// BuildPrompt собирает запрос с разделами, которые понимает ParseResponse.
func BuildPrompt(title, content string, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Your task is to rewrite the following blog post to make it unique, engaging, and optimized.

**Original Title:** %s

**Original Content:**
%s

**Instructions:**
1. Rewrite the content completely to avoid plagiarism while preserving the core message and information
2. Make the content more engaging and natural-sounding
`, title, content)

	if opts.OptimizeSEO {
		b.WriteString("3. Optimize for SEO with relevant keywords naturally incorporated\n")
	}
	if opts.ImproveReadability {
		b.WriteString("4. Improve readability with clear paragraphs, transitions, and structure\n")
	}
	if opts.GenerateMeta {
		b.WriteString("5. Generate a compelling meta description (150-160 characters)\n")
	}
	if opts.SuggestTags {
		b.WriteString("6. Suggest 5-8 relevant tags/keywords for the post\n")
	}

	b.WriteString(`
**Output Format:**
Please respond in the following format:

REWRITTEN_TITLE:
[Your rewritten title here]

REWRITTEN_CONTENT:
[Your complete rewritten content here - make it substantial and detailed]

META_DESCRIPTION:
[Meta description if requested]

TAGS:
[Comma-separated tags if requested]
`)
	return b.String()
}

const (
	titleMarker   = "REWRITTEN_TITLE:"
	contentMarker = "REWRITTEN_CONTENT:"
	metaMarker    = "META_DESCRIPTION:"
	tagsMarker    = "TAGS:"
)

// ParseResponse разбирает ответ модели по блокам, разделённым пустой строкой.
// Блок без маркера продолжает предыдущий раздел.
func ParseResponse(text string) models.RewrittenArticle {
	var (
		out     models.RewrittenArticle
		current string
	)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		switch {
		case strings.HasPrefix(block, titleMarker):
			current = titleMarker
			out.Title = strings.TrimSpace(strings.TrimPrefix(block, titleMarker))
		case strings.HasPrefix(block, contentMarker):
			current = contentMarker
			out.Content = strings.TrimSpace(strings.TrimPrefix(block, contentMarker))
		case strings.HasPrefix(block, metaMarker):
			current = metaMarker
			out.MetaDescription = strings.TrimSpace(strings.TrimPrefix(block, metaMarker))
		case strings.HasPrefix(block, tagsMarker):
			current = tagsMarker
			out.SuggestedTags = splitTags(strings.TrimPrefix(block, tagsMarker))
		case block == "":
		case current == contentMarker:
			out.Content = joinNonEmpty(out.Content, block, "\n\n")
		case current == metaMarker:
			out.MetaDescription = joinNonEmpty(out.MetaDescription, block, " ")
		case current == titleMarker && out.Title == "":
			out.Title = block
		}
	}

	out.MetaDescription = truncateMeta(out.MetaDescription)
	return out
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func joinNonEmpty(a, b, sep string) string {
	if a == "" {
		return b
	}
	return a + sep + b
}

func truncateMeta(meta string) string {
	r := []rune(meta)
	if len(r) <= maxMetaLength {
		return meta
	}
	return string(r[:maxMetaLength-3]) + "..."
}
