package publisher

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/models"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const (
	MaxEmailImages  = 5
	maxImageBytes   = 5 << 20
	base64LineWidth = 76
)

var bodyPolicy = bluemonday.UGCPolicy()

// Sender передаёт готовое письмо SMTP-серверу из конфигурации.
type Sender interface {
	Send(ctx context.Context, cfg *models.PublisherConfig, to string, msg []byte) error
}

// Image скачанная картинка для inline-вложения.
type Image struct {
	Data        []byte
	ContentType string
}

// Email публикует через адрес «Post by email» блога. Успех означает только
// передачу письма SMTP, поэтому URL поста неизвестен.
type Email struct {
	sender    Sender
	client    *http.Client
	maxImages int
}

func NewEmail(sender Sender, imageTimeout time.Duration, maxImages int) *Email {
	if imageTimeout <= 0 {
		imageTimeout = 10 * time.Second
	}
	if maxImages < 0 || maxImages > MaxEmailImages {
		maxImages = MaxEmailImages
	}
	return &Email{sender: sender, client: &http.Client{Timeout: imageTimeout}, maxImages: maxImages}
}

// Publish отправляет письмо и всегда возвращает пустой URL.
func (e *Email) Publish(ctx context.Context, cfg *models.PublisherConfig, post *models.Post) (string, error) {
	const op = "email publish"
	log := logger.Service("publisher").WithFields(cfg.LogFields()).WithField("post_id", post.ID)

	if !models.ValidBloggerEmail(cfg.EmailAddress) {
		return "", models.Errorf(models.KindValidation, op, "invalid blogger email format: %s", cfg.EmailAddress)
	}

	article := ArticleFromPost(post)
	images := e.downloadImages(ctx, article.Images, log)

	msg, err := BuildMessage(cfg.SMTPUsername, cfg.EmailAddress, article, images)
	if err != nil {
		return "", models.NewError(models.KindValidation, op, err)
	}
	if err := e.sender.Send(ctx, cfg, cfg.EmailAddress, msg); err != nil {
		log.Warnf("SMTP send failed: %v", err)
		if models.KindOf(err) == "" {
			err = models.NewError(models.KindTransport, op, err)
		}
		return "", err
	}

	log.WithField("images", len(images)).Info("Post handed to SMTP")
	return "", nil
}

func (e *Email) downloadImages(ctx context.Context, urls []string, log *logger.Entry) []Image {
	var images []Image
	for _, u := range urls {
		if len(images) == e.maxImages {
			break
		}
		img, err := e.download(ctx, u)
		if err != nil {
			log.Warnf("Could not attach image %s: %v", u, err)
			continue
		}
		images = append(images, img)
	}
	return images
}

func (e *Email) download(ctx context.Context, url string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return Image{}, err
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		ct = "image/jpeg"
	}
	return Image{Data: data, ContentType: ct}, nil
}

// BuildMessage собирает multipart/related письмо: alternative (text + html)
// и inline-картинки image{N}.jpg с Content-ID <imageN>.
func BuildMessage(from, to string, a Article, images []Image) ([]byte, error) {
	htmlBody, err := FormatEmailHTML(a.Content, a.Labels)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	related := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", a.Title))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/related; boundary=%q\r\n\r\n", related.Boundary())

	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	if err := writeText(altWriter, "text/plain", FormatEmailText(a.Content, a.Labels)); err != nil {
		return nil, err
	}
	if err := writeText(altWriter, "text/html", htmlBody); err != nil {
		return nil, err
	}
	if err := altWriter.Close(); err != nil {
		return nil, err
	}

	altPart, err := related.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary())},
	})
	if err != nil {
		return nil, err
	}
	if _, err := altPart.Write(alt.Bytes()); err != nil {
		return nil, err
	}

	for i, img := range images {
		part, err := related.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {img.ContentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-ID":                {fmt.Sprintf("<image%d>", i)},
			"Content-Disposition":       {fmt.Sprintf("inline; filename=\"image%d.jpg\"", i)},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64(part, img.Data); err != nil {
			return nil, err
		}
	}

	if err := related.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeText(w *multipart.Writer, contentType, body string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType + "; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > base64LineWidth {
		if _, err := io.WriteString(w, encoded[:base64LineWidth]+"\r\n"); err != nil {
			return err
		}
		encoded = encoded[base64LineWidth:]
	}
	_, err := io.WriteString(w, encoded+"\r\n")
	return err
}

// FormatEmailHTML переводит markdown-разметку (жирный, курсив, списки) в HTML
// и добавляет строку с метками.
func FormatEmailHTML(content string, labels []string) (string, error) {
	var md bytes.Buffer
	if err := goldmark.Convert([]byte(content), &md); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	var b strings.Builder
	b.WriteString(`<div style="font-family: Arial, sans-serif; line-height: 1.6;">` + "\n")
	b.WriteString(bodyPolicy.Sanitize(md.String()))
	if len(labels) > 0 {
		b.WriteString(`<div style="margin-top: 20px; padding: 10px; background-color: #f0f0f0; border-radius: 5px;">` + "\n")
		b.WriteString(`<p style="margin: 0; font-size: 14px; color: #666;"><strong>Tags:</strong> `)
		b.WriteString(bodyPolicy.Sanitize(strings.Join(labels, ", ")))
		b.WriteString("</p>\n</div>\n")
	}
	b.WriteString("</div>")
	return b.String(), nil
}

// FormatEmailText текстовая альтернатива с той же строкой меток.
func FormatEmailText(content string, labels []string) string {
	if len(labels) == 0 {
		return content
	}
	return content + "\n\nTags: " + strings.Join(labels, ", ")
}
