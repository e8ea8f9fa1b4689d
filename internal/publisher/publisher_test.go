package publisher_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"os"
	"strings"
	"testing"
	"time"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/models"
	"blog_migrator/internal/publisher"

	"github.com/stretchr/testify/require"
)

func rewrittenPost() *models.Post {
	return &models.Post{
		ID:               "p1",
		Title:            "Original",
		Content:          "Original body",
		RewrittenTitle:   "Fresh Title",
		RewrittenContent: "First **bold** paragraph.\n\nSecond *soft* paragraph.\n\n- one\n- two",
		Tags:             []string{"go", "c++"},
		SuggestedTags:    []string{"go", "blogging!"},
		Status:           models.StatusRewritten,
	}
}

func TestFormatLabels(t *testing.T) {
	tags := []string{" go lang ", "c++", "!!!", ""}
	for i := 0; i < 30; i++ {
		tags = append(tags, fmt.Sprintf("t%d", i))
	}
	labels := publisher.FormatLabels(tags)
	require.Equal(t, []string{"go lang", "c"}, labels[:2])
	// 20 исходных меток, из них две пустые после чистки
	require.Len(t, labels, 18)
}

func TestArticleFromPost(t *testing.T) {
	a := publisher.ArticleFromPost(rewrittenPost())
	require.Equal(t, "Fresh Title", a.Title)
	require.Equal(t, []string{"go", "c", "blogging"}, a.Labels)

	plain := &models.Post{Title: "T", Content: "Body"}
	require.Equal(t, "Body", publisher.ArticleFromPost(plain).Content)
}

func TestFormatContentHTML(t *testing.T) {
	out := publisher.FormatContentHTML("One\n\n\n\nTwo <b>", []string{"http://i/1", "http://i/2", "http://i/3", "http://i/4"})
	require.Contains(t, out, "<p>One</p>")
	require.Contains(t, out, "<p>Two &lt;b&gt;</p>")
	require.Equal(t, 3, strings.Count(out, "<img "))
}

func TestValidateConfigWarnings(t *testing.T) {
	cfg := &models.PublisherConfig{BlogName: "b", PublishMethod: models.MethodAPI, BlogID: "abc", APIKey: "k"}
	warnings, err := publisher.ValidateConfig(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)

	cfg.BlogID = "123456"
	warnings, err = publisher.ValidateConfig(cfg)
	require.NoError(t, err)
	require.Empty(t, warnings)

	cfg.APIKey = ""
	_, err = publisher.ValidateConfig(cfg)
	require.Equal(t, models.KindValidation, models.KindOf(err))
}

func apiConfig() *models.PublisherConfig {
	return &models.PublisherConfig{ID: "c1", BlogName: "b", PublishMethod: models.MethodAPI, BlogID: "123", APIKey: "secret-key"}
}

func TestAPIPublish(t *testing.T) {
	var got struct {
		Title   string   `json:"title"`
		Content string   `json:"content"`
		Labels  []string `json:"labels"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/blogs/123/posts", r.URL.Path)
		require.Equal(t, "secret-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"kind":"blogger#post","id":"99","url":"https://example.blogspot.com/2026/10/fresh-title.html"}`))
	}))
	defer srv.Close()

	api := publisher.NewAPI(srv.URL+"/", nil)
	url, err := api.Publish(context.Background(), apiConfig(), rewrittenPost())
	require.NoError(t, err)
	require.Equal(t, "https://example.blogspot.com/2026/10/fresh-title.html", url)
	require.Equal(t, "Fresh Title", got.Title)
	require.Equal(t, []string{"go", "c", "blogging"}, got.Labels)
	require.Contains(t, got.Content, "<p>")
}

func TestAPIPublishErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		kind   models.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota"}}`, models.KindRateLimited},
		{"server error", http.StatusInternalServerError, `{"error":{"code":500,"message":"boom"}}`, models.KindTransport},
		{"no url", http.StatusOK, `{"kind":"blogger#post","id":"1"}`, models.KindCollaboratorData},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := publisher.NewAPI(srv.URL+"/", nil).Publish(context.Background(), apiConfig(), rewrittenPost())
			require.Error(t, err)
			require.Equal(t, tc.kind, models.KindOf(err))
		})
	}
}

func TestAPIPublishDroppedConnectionHidesKey(t *testing.T) {
	const key = "TOPSECRETKEY"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, key, r.URL.Query().Get("key"))
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger.InitWithOutput(&buf)
	t.Cleanup(func() { logger.InitWithOutput(os.Stdout) })

	cfg := apiConfig()
	cfg.APIKey = key
	_, err := publisher.NewAPI(srv.URL+"/", nil).Publish(context.Background(), cfg, rewrittenPost())
	require.Error(t, err)
	require.Equal(t, models.KindTransport, models.KindOf(err))
	require.Contains(t, err.Error(), "/v3/blogs/123/posts")
	require.NotContains(t, err.Error(), key)
	require.Contains(t, buf.String(), "Blogger insert failed")
	require.NotContains(t, buf.String(), key)
}

type captureSender struct {
	to  string
	msg []byte
	err error
}

func (c *captureSender) Send(_ context.Context, _ *models.PublisherConfig, to string, msg []byte) error {
	c.to, c.msg = to, msg
	return c.err
}

func emailConfig() *models.PublisherConfig {
	return &models.PublisherConfig{
		ID:            "c2",
		BlogName:      "b",
		PublishMethod: models.MethodEmail,
		EmailAddress:  "blog.key123@blogger.com",
		SMTPServer:    "smtp.example.com",
		SMTPPort:      587,
		SMTPUsername:  "me@example.com",
		SMTPPassword:  "hunter2",
	}
}

func TestEmailPublish(t *testing.T) {
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes-" + r.URL.Path))
	}))
	defer images.Close()

	post := rewrittenPost()
	post.Images = []string{images.URL + "/broken.jpg"}
	for i := 0; i < 7; i++ {
		post.Images = append(post.Images, fmt.Sprintf("%s/%d.png", images.URL, i))
	}

	sender := &captureSender{}
	email := publisher.NewEmail(sender, time.Second, 5)
	url, err := email.Publish(context.Background(), emailConfig(), post)
	require.NoError(t, err)
	require.Empty(t, url)
	require.Equal(t, "blog.key123@blogger.com", sender.to)
	require.NotContains(t, string(sender.msg), "hunter2")

	msg, err := mail.ReadMessage(bytes.NewReader(sender.msg))
	require.NoError(t, err)
	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	require.Equal(t, "Fresh Title", subject)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/related", mediaType)

	reader := multipart.NewReader(msg.Body, params["boundary"])
	first, err := reader.NextPart()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first.Header.Get("Content-Type"), "multipart/alternative"))

	var ids []string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		ids = append(ids, part.Header.Get("Content-ID"))
		require.Equal(t, "image/png", part.Header.Get("Content-Type"))
	}
	require.Equal(t, []string{"<image0>", "<image1>", "<image2>", "<image3>", "<image4>"}, ids)
}

func TestEmailPublishErrors(t *testing.T) {
	cfg := emailConfig()
	cfg.EmailAddress = "blog@blogger.com"
	_, err := publisher.NewEmail(&captureSender{}, time.Second, 5).Publish(context.Background(), cfg, rewrittenPost())
	require.Equal(t, models.KindValidation, models.KindOf(err))

	sender := &captureSender{err: errors.New("connection refused")}
	_, err = publisher.NewEmail(sender, time.Second, 5).Publish(context.Background(), emailConfig(), rewrittenPost())
	require.Equal(t, models.KindTransport, models.KindOf(err))
}

func TestFormatEmailHTML(t *testing.T) {
	out, err := publisher.FormatEmailHTML(rewrittenPost().RewrittenContent, []string{"go", "blogging"})
	require.NoError(t, err)
	require.Contains(t, out, "<strong>bold</strong>")
	require.Contains(t, out, "<em>soft</em>")
	require.Contains(t, out, "<li>one</li>")
	require.Contains(t, out, "<strong>Tags:</strong> go, blogging")

	out, err = publisher.FormatEmailHTML("hi <script>alert(1)</script>", nil)
	require.NoError(t, err)
	require.NotContains(t, out, "<script>")
	require.NotContains(t, out, "Tags:")
}

func TestFormatEmailText(t *testing.T) {
	require.Equal(t, "Body\n\nTags: a, b", publisher.FormatEmailText("Body", []string{"a", "b"}))
	require.Equal(t, "Body", publisher.FormatEmailText("Body", nil))
}
