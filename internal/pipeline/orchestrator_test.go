package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"blog_migrator/internal/db"
	"blog_migrator/internal/logger"
	"blog_migrator/internal/metrics"
	"blog_migrator/internal/models"
	"blog_migrator/internal/pipeline"
	"blog_migrator/internal/publisher"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type fakeExtractor struct {
	articles []models.RawArticle
	reason   string
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, maxPosts int) ([]models.RawArticle, string) {
	if len(f.articles) > maxPosts {
		return f.articles[:maxPosts], f.reason
	}
	return f.articles, f.reason
}

type fakeRewriter struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error
	hook  func(title string)
}

func (f *fakeRewriter) Rewrite(_ context.Context, title, content string) (models.RewrittenArticle, error) {
	f.mu.Lock()
	f.calls++
	err := f.fail[title]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(title)
	}
	if err != nil {
		return models.RewrittenArticle{}, err
	}
	return models.RewrittenArticle{
		Title:           "New " + title,
		Content:         "Rewritten " + content,
		MetaDescription: "meta",
		SuggestedTags:   []string{"go"},
	}, nil
}

func (f *fakeRewriter) setFail(title string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, title)
		return
	}
	f.fail[title] = err
}

type fakePublisher struct {
	mu        sync.Mutex
	base      string
	err       error
	published []string
}

func (f *fakePublisher) Publish(_ context.Context, _ *models.PublisherConfig, post *models.Post) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, post.ID)
	if f.base == "" {
		return "", nil
	}
	return f.base + post.ID, nil
}

func (f *fakePublisher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

type fixture struct {
	store     *db.MemoryStore
	source    *models.Source
	extractor *fakeExtractor
	rewriter  *fakeRewriter
	api       *fakePublisher
	email     *fakePublisher
	metrics   *metrics.Metrics
	orch      *pipeline.Orchestrator
	now       time.Time
}

func setup(t *testing.T, opts pipeline.Options) *fixture {
	t.Helper()
	f := &fixture{
		store:     db.NewMemoryStore(),
		extractor: &fakeExtractor{},
		rewriter:  &fakeRewriter{fail: map[string]error{}},
		api:       &fakePublisher{base: "https://new.blogspot.com/"},
		email:     &fakePublisher{},
		metrics:   metrics.New(),
		now:       start,
	}
	f.store.SetClock(func() time.Time { return start })
	f.source = &models.Source{URL: "https://old.example.com", Name: "Old blog"}
	require.NoError(t, f.store.CreateSource(context.Background(), f.source))

	opts.Now = func() time.Time { return f.now }
	opts.Metrics = f.metrics
	f.orch = pipeline.New(f.store, f.extractor, f.rewriter, pipeline.NewDispatcher(f.store, f.api, f.email), opts)
	return f
}

func (f *fixture) addPost(t *testing.T, title string, status models.Status) *models.Post {
	t.Helper()
	ctx := context.Background()
	p := &models.Post{SourceID: f.source.ID, Title: title, Content: title + " body", SourceURL: "https://old.example.com/" + title}
	created, err := f.store.CreatePost(ctx, p)
	require.NoError(t, err)
	require.True(t, created)

	if status == models.StatusExtracted {
		return p
	}
	rt, rc := "New "+title, "Rewritten body"
	updated, err := f.store.UpdatePost(ctx, p.ID, models.StatusExtracted, models.PostUpdate{
		Status: models.StatusRewritten, RewrittenTitle: &rt, RewrittenContent: &rc,
	})
	require.NoError(t, err)
	if status == models.StatusScheduled {
		at := f.now.Add(time.Hour)
		updated, err = f.store.UpdatePost(ctx, p.ID, models.StatusRewritten, models.PostUpdate{
			Status: models.StatusScheduled, ScheduledTime: &at,
		})
		require.NoError(t, err)
	}
	return updated
}

func (f *fixture) addConfig(t *testing.T, method models.PublishMethod, isDefault bool) *models.PublisherConfig {
	t.Helper()
	cfg := &models.PublisherConfig{BlogName: "new blog", PublishMethod: method, IsDefault: isDefault}
	if method == models.MethodAPI {
		cfg.BlogID, cfg.APIKey = "123456", "key"
	} else {
		cfg.EmailAddress, cfg.SMTPUsername, cfg.SMTPPassword = "blog.key123@blogger.com", "me@example.com", "secret"
	}
	require.NoError(t, f.store.CreateConfig(context.Background(), cfg))
	return cfg
}

func (f *fixture) get(t *testing.T, id string) *models.Post {
	t.Helper()
	p, err := f.store.GetPost(context.Background(), id)
	require.NoError(t, err)
	return p
}

func requests(posts ...*models.Post) []pipeline.Request {
	reqs := make([]pipeline.Request, len(posts))
	for i, p := range posts {
		reqs[i] = pipeline.Request{PostID: p.ID, Observed: p.Status}
	}
	return reqs
}

func TestExtractSourceIsIdempotent(t *testing.T) {
	f := setup(t, pipeline.Options{})
	ctx := context.Background()

	f.extractor.articles = []models.RawArticle{
		{Title: "A", Content: "a", SourceURL: "a"},
		{Title: "B", Content: "b", SourceURL: "b"},
	}
	report, err := f.orch.ExtractSource(ctx, f.source.ID, 10)
	require.NoError(t, err)
	require.Equal(t, 2, report.Created)

	posts, err := f.store.GetPostsByStatus(ctx, models.StatusExtracted)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	report, err = f.orch.ExtractSource(ctx, f.source.ID, 10)
	require.NoError(t, err)
	require.Equal(t, 0, report.Created)
	require.Equal(t, 2, report.Duplicates)

	f.extractor.articles = append(f.extractor.articles, models.RawArticle{Title: "C", Content: "c", SourceURL: "c"})
	report, err = f.orch.ExtractSource(ctx, f.source.ID, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)

	posts, err = f.store.GetPostsByStatus(ctx, models.StatusExtracted)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	require.Equal(t, "c", posts[2].SourceURL)

	require.Equal(t, float64(3), testutil.ToFloat64(f.metrics.Extracted))
	require.Equal(t, float64(4), testutil.ToFloat64(f.metrics.Duplicates))
}

func TestExtractSourceSkipsMalformed(t *testing.T) {
	f := setup(t, pipeline.Options{})
	f.extractor.articles = []models.RawArticle{
		{Title: "no url"},
		{SourceURL: "empty"},
		{Title: "A", SourceURL: "a"},
		{Title: "A again", SourceURL: " a "},
		{Content: "untitled", SourceURL: "u"},
	}

	report, err := f.orch.ExtractSource(context.Background(), f.source.ID, 10)
	require.NoError(t, err)
	require.Equal(t, pipeline.ExtractReport{SourceID: f.source.ID, Fetched: 5, Created: 2, Duplicates: 1, Skipped: 2}, report)

	posts, err := f.store.GetPostsByStatus(context.Background(), models.StatusExtracted)
	require.NoError(t, err)
	require.Equal(t, "Untitled Post", posts[1].Title)
}

func TestExtractSourceUnreachable(t *testing.T) {
	f := setup(t, pipeline.Options{})
	f.extractor.reason = "fetch failed: connection refused"

	report, err := f.orch.ExtractSource(context.Background(), f.source.ID, 10)
	require.NoError(t, err)
	require.Zero(t, report.Created)
	require.Equal(t, "fetch failed: connection refused", report.Reason)

	_, err = f.orch.ExtractSource(context.Background(), "missing", 10)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestRewriteBatchIsolatesFailures(t *testing.T) {
	f := setup(t, pipeline.Options{Workers: 4})
	var posts []*models.Post
	for i := 0; i < 10; i++ {
		posts = append(posts, f.addPost(t, fmt.Sprintf("post-%d", i), models.StatusExtracted))
	}
	for _, i := range []int{1, 4, 8} {
		f.rewriter.setFail(fmt.Sprintf("post-%d", i), models.Errorf(models.KindRateLimited, "rewrite", "quota exceeded"))
	}

	outcomes := f.orch.Rewrite(context.Background(), requests(posts...))
	require.Len(t, outcomes, 10)
	require.Equal(t, "7 of 10 rewritten, 3 failed: rate_limited", pipeline.Summary(outcomes))

	for i, out := range outcomes {
		require.Equal(t, posts[i].ID, out.PostID)
		p := f.get(t, posts[i].ID)
		if i == 1 || i == 4 || i == 8 {
			require.Equal(t, models.StatusFailed, out.Status)
			require.Equal(t, models.KindRateLimited, out.Kind)
			require.Equal(t, models.StatusFailed, p.Status)
			require.Equal(t, models.StageRewrite, p.FailedStage)
			require.Equal(t, 1, p.Attempts)
			continue
		}
		require.True(t, out.OK())
		require.Equal(t, models.StatusRewritten, p.Status)
		require.Equal(t, "New "+posts[i].Title, p.RewrittenTitle)
		require.Equal(t, []string{"go"}, p.SuggestedTags)
		require.NoError(t, p.Validate())
	}

	require.Equal(t, float64(7), testutil.ToFloat64(f.metrics.Transitions.WithLabelValues("rewrite", "rewritten")))
	require.Equal(t, float64(3), testutil.ToFloat64(f.metrics.Transitions.WithLabelValues("rewrite", "rate_limited")))
}

func TestRewriteUntypedErrorIsTransport(t *testing.T) {
	f := setup(t, pipeline.Options{})
	p := f.addPost(t, "p", models.StatusExtracted)
	f.rewriter.setFail("p", errors.New("connection reset"))

	outcomes := f.orch.Rewrite(context.Background(), requests(p))
	require.Equal(t, models.KindTransport, outcomes[0].Kind)
	require.Equal(t, models.KindTransport, f.get(t, p.ID).LastErrorKind)
}

type rewriterFunc func(ctx context.Context, title, content string) (models.RewrittenArticle, error)

func (f rewriterFunc) Rewrite(ctx context.Context, title, content string) (models.RewrittenArticle, error) {
	return f(ctx, title, content)
}

func TestRewritePostRejectsEmptyResponse(t *testing.T) {
	empty := rewriterFunc(func(context.Context, string, string) (models.RewrittenArticle, error) {
		return models.RewrittenArticle{Title: "Only a title", Content: "  "}, nil
	})
	post := &models.Post{ID: "p", Title: "t", Content: "c", Status: models.StatusExtracted, Attempts: 1}

	u, err := pipeline.RewritePost(context.Background(), empty, post)
	require.Equal(t, models.KindCollaboratorData, models.KindOf(err))
	require.Equal(t, models.StatusFailed, u.Status)
	require.Equal(t, 2, *u.Attempts)
	require.Equal(t, models.StageRewrite, *u.FailedStage)
	require.Nil(t, u.RewrittenTitle)
}

func TestRewriteRejectsStaleObservedStatus(t *testing.T) {
	f := setup(t, pipeline.Options{})
	p := f.addPost(t, "p", models.StatusRewritten)

	outcomes := f.orch.Rewrite(context.Background(), []pipeline.Request{{PostID: p.ID, Observed: models.StatusExtracted}})
	require.Equal(t, models.KindStateConflict, outcomes[0].Kind)
	require.ErrorIs(t, outcomes[0].Err, models.ErrStateConflict)
	require.Zero(t, f.rewriter.calls)
	require.Equal(t, models.StatusRewritten, f.get(t, p.ID).Status)
}

func TestRewriteDiscardsResultAfterConcurrentWrite(t *testing.T) {
	f := setup(t, pipeline.Options{})
	p := f.addPost(t, "p", models.StatusExtracted)

	// другой писатель успевает перевести пост, пока идёт вызов сервиса
	f.rewriter.hook = func(string) {
		rt, rc := "by cli", "by cli"
		_, err := f.store.UpdatePost(context.Background(), p.ID, models.StatusExtracted, models.PostUpdate{
			Status: models.StatusRewritten, RewrittenTitle: &rt, RewrittenContent: &rc,
		})
		assert.NoError(t, err)
	}

	outcomes := f.orch.Rewrite(context.Background(), requests(p))
	require.Equal(t, models.KindStateConflict, outcomes[0].Kind)
	require.Equal(t, "by cli", f.get(t, p.ID).RewrittenTitle)
}

func TestRewriteRejectsSkippedStage(t *testing.T) {
	f := setup(t, pipeline.Options{})
	p := f.addPost(t, "p", models.StatusScheduled)

	outcomes := f.orch.Rewrite(context.Background(), requests(p))
	require.Equal(t, models.KindValidation, outcomes[0].Kind)
	require.Equal(t, models.StatusScheduled, outcomes[0].Status)

	outcomes = f.orch.Rewrite(context.Background(), []pipeline.Request{{PostID: "missing"}})
	require.Equal(t, models.KindValidation, outcomes[0].Kind)
	require.ErrorIs(t, outcomes[0].Err, models.ErrNotFound)
}

func TestScheduleRejectsPastTime(t *testing.T) {
	f := setup(t, pipeline.Options{})
	p := f.addPost(t, "p", models.StatusRewritten)

	_, err := f.orch.Schedule(context.Background(), requests(p), start.Add(-time.Minute))
	require.Equal(t, models.KindValidation, models.KindOf(err))
	_, err = f.orch.Schedule(context.Background(), requests(p), start)
	require.Error(t, err)
	require.Equal(t, models.StatusRewritten, f.get(t, p.ID).Status)
}

func TestScheduledPostBecomesDue(t *testing.T) {
	f := setup(t, pipeline.Options{})
	ctx := context.Background()
	p := f.addPost(t, "p", models.StatusRewritten)
	at := start.Add(3 * time.Hour)

	outcomes, err := f.orch.Schedule(ctx, requests(p), at)
	require.NoError(t, err)
	require.Equal(t, models.StatusScheduled, outcomes[0].Status)

	due, err := f.store.GetDuePosts(ctx, at.Add(-time.Second))
	require.NoError(t, err)
	require.Empty(t, due)

	due, err = f.store.GetDuePosts(ctx, at)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, p.ID, due[0].ID)

	// перенос на другое время
	later := at.Add(time.Hour)
	outcomes, err = f.orch.Schedule(ctx, []pipeline.Request{{PostID: p.ID, Observed: models.StatusScheduled}}, later)
	require.NoError(t, err)
	require.True(t, outcomes[0].OK())
	require.True(t, later.Equal(*f.get(t, p.ID).ScheduledTime))
}

func TestSchedulePlan(t *testing.T) {
	f := setup(t, pipeline.Options{Workers: 3})
	posts := []*models.Post{
		f.addPost(t, "a", models.StatusRewritten),
		f.addPost(t, "b", models.StatusRewritten),
		f.addPost(t, "c", models.StatusRewritten),
	}
	first := start.Add(24 * time.Hour)

	outcomes, err := f.orch.SchedulePlan(context.Background(), requests(posts...), first, 2)
	require.NoError(t, err)
	require.Equal(t, "3 of 3 scheduled", pipeline.Summary(outcomes))

	require.True(t, first.Equal(*f.get(t, posts[0].ID).ScheduledTime))
	require.True(t, first.Add(2*time.Hour).Equal(*f.get(t, posts[1].ID).ScheduledTime))
	require.True(t, first.AddDate(0, 0, 1).Equal(*f.get(t, posts[2].ID).ScheduledTime))
}

func TestNextSlot(t *testing.T) {
	f := setup(t, pipeline.Options{})
	ctx := context.Background()

	slot, err := f.orch.NextSlot(ctx)
	require.NoError(t, err)
	require.True(t, start.Add(2*time.Hour).Equal(slot), "got %s", slot)

	// Пост через час раньше минимального слота и его не сдвигает.
	f.addPost(t, "soon", models.StatusScheduled)
	slot, err = f.orch.NextSlot(ctx)
	require.NoError(t, err)
	require.True(t, start.Add(2*time.Hour).Equal(slot), "got %s", slot)

	late := f.addPost(t, "late", models.StatusRewritten)
	_, err = f.orch.Schedule(ctx, requests(late), start.Add(5*time.Hour))
	require.NoError(t, err)
	slot, err = f.orch.NextSlot(ctx)
	require.NoError(t, err)
	require.True(t, start.Add(7*time.Hour).Equal(slot), "got %s", slot)
}

func TestPublishViaAPI(t *testing.T) {
	f := setup(t, pipeline.Options{})
	cfg := f.addConfig(t, models.MethodAPI, true)
	p := f.addPost(t, "p", models.StatusRewritten)

	outcomes, err := f.orch.Publish(context.Background(), requests(p), "")
	require.NoError(t, err)
	require.True(t, outcomes[0].OK())
	require.Equal(t, models.ConfidenceConfirmed, outcomes[0].Confidence)
	require.Equal(t, "https://new.blogspot.com/"+p.ID, outcomes[0].URL)

	got := f.get(t, p.ID)
	require.Equal(t, models.StatusPublished, got.Status)
	require.Equal(t, cfg.ID, got.ConfigID)
	require.Equal(t, models.ConfidenceConfirmed, got.Confidence)
	require.Nil(t, got.ScheduledTime)
	require.Empty(t, f.email.calls())
}

func TestPublishViaEmailIsUnconfirmed(t *testing.T) {
	f := setup(t, pipeline.Options{})
	f.addConfig(t, models.MethodEmail, false)
	p := f.addPost(t, "p", models.StatusRewritten)

	outcomes, err := f.orch.Publish(context.Background(), requests(p), "")
	require.NoError(t, err)
	require.True(t, outcomes[0].OK())
	require.Equal(t, models.ConfidenceUnconfirmed, outcomes[0].Confidence)
	require.Equal(t, "1 of 1 published (1 unconfirmed)", pipeline.Summary(outcomes))

	got := f.get(t, p.ID)
	require.Equal(t, models.StatusPublished, got.Status)
	require.Empty(t, got.PublishedURL)
	require.Equal(t, models.ConfidenceUnconfirmed, got.Confidence)
	require.NoError(t, got.Validate())
	require.Equal(t, []string{p.ID}, f.email.calls())
}

func TestPublishConfigSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("no configs", func(t *testing.T) {
		f := setup(t, pipeline.Options{})
		p := f.addPost(t, "p", models.StatusRewritten)
		_, err := f.orch.Publish(ctx, requests(p), "")
		require.ErrorIs(t, err, models.ErrNoConfig)
		require.Equal(t, models.KindConfigAmbiguity, models.KindOf(err))
	})

	t.Run("two configs without default abort the batch", func(t *testing.T) {
		f := setup(t, pipeline.Options{})
		f.addConfig(t, models.MethodAPI, false)
		f.addConfig(t, models.MethodEmail, false)
		p := f.addPost(t, "p", models.StatusRewritten)

		outcomes, err := f.orch.Publish(ctx, requests(p), "")
		require.ErrorIs(t, err, models.ErrConfigAmbiguous)
		require.Nil(t, outcomes)
		require.Empty(t, f.api.calls())
		require.Empty(t, f.email.calls())
		require.Equal(t, models.StatusRewritten, f.get(t, p.ID).Status)
	})

	t.Run("explicit id wins over default", func(t *testing.T) {
		f := setup(t, pipeline.Options{})
		f.addConfig(t, models.MethodAPI, true)
		email := f.addConfig(t, models.MethodEmail, false)
		p := f.addPost(t, "p", models.StatusRewritten)

		_, err := f.orch.Publish(ctx, requests(p), email.ID)
		require.NoError(t, err)
		require.Equal(t, []string{p.ID}, f.email.calls())
		require.Empty(t, f.api.calls())
	})

	t.Run("unknown explicit id", func(t *testing.T) {
		f := setup(t, pipeline.Options{})
		f.addConfig(t, models.MethodAPI, true)
		_, err := f.orch.Publish(ctx, nil, "missing")
		require.Equal(t, models.KindConfigAmbiguity, models.KindOf(err))
	})
}

func TestPublishGuards(t *testing.T) {
	f := setup(t, pipeline.Options{})
	f.addConfig(t, models.MethodAPI, true)
	extracted := f.addPost(t, "e", models.StatusExtracted)
	scheduled := f.addPost(t, "s", models.StatusScheduled)

	outcomes, err := f.orch.Publish(context.Background(), requests(extracted, scheduled), "")
	require.NoError(t, err)
	for _, out := range outcomes {
		require.Equal(t, models.KindValidation, out.Kind)
	}
	require.Empty(t, f.api.calls())
}

func TestPublishFailureKeepsConfigAndRetries(t *testing.T) {
	f := setup(t, pipeline.Options{})
	cfg := f.addConfig(t, models.MethodAPI, true)
	p := f.addPost(t, "p", models.StatusRewritten)
	f.api.err = errors.New("dial tcp: timeout")

	outcomes, err := f.orch.Publish(context.Background(), requests(p), "")
	require.NoError(t, err)
	require.Equal(t, models.KindTransport, outcomes[0].Kind)

	failed := f.get(t, p.ID)
	require.Equal(t, models.StatusFailed, failed.Status)
	require.Equal(t, models.StagePublish, failed.FailedStage)
	require.Equal(t, cfg.ID, failed.ConfigID)
	require.Equal(t, "New p", failed.RewrittenTitle)
	require.Equal(t, 1, failed.Attempts)

	f.api.err = nil
	outcomes, err = f.orch.Retry(context.Background(), requests(failed), "")
	require.NoError(t, err)
	require.True(t, outcomes[0].OK())
	require.Equal(t, models.StagePublish, outcomes[0].Stage)

	published := f.get(t, p.ID)
	require.Equal(t, models.StatusPublished, published.Status)
	require.Zero(t, published.Attempts)
	require.Empty(t, published.FailedStage)
	require.Empty(t, published.LastError)
}

func TestPublishTransportFailureDoesNotStoreAPIKey(t *testing.T) {
	const key = "TOPSECRETKEY"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger.InitWithOutput(&buf)
	t.Cleanup(func() { logger.InitWithOutput(os.Stdout) })

	f := setup(t, pipeline.Options{})
	cfg := &models.PublisherConfig{BlogName: "new blog", PublishMethod: models.MethodAPI, BlogID: "123", APIKey: key, IsDefault: true}
	require.NoError(t, f.store.CreateConfig(context.Background(), cfg))
	p := f.addPost(t, "p", models.StatusRewritten)

	dispatcher := pipeline.NewDispatcher(f.store, publisher.NewAPI(srv.URL+"/", nil), f.email)
	orch := pipeline.New(f.store, f.extractor, f.rewriter, dispatcher, pipeline.Options{Now: func() time.Time { return f.now }})

	outcomes, err := orch.Publish(context.Background(), requests(p), "")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, models.KindTransport, outcomes[0].Kind)
	require.NotContains(t, outcomes[0].Error, key)
	require.NotContains(t, outcomes[0].Err.Error(), key)

	failed := f.get(t, p.ID)
	require.Equal(t, models.StatusFailed, failed.Status)
	require.NotEmpty(t, failed.LastError)
	require.NotContains(t, failed.LastError, key)
	require.NotContains(t, buf.String(), key)
}

func TestRetryAbortsOnAmbiguousConfig(t *testing.T) {
	f := setup(t, pipeline.Options{})
	f.addConfig(t, models.MethodAPI, true)
	p := f.addPost(t, "p", models.StatusRewritten)
	f.api.err = errors.New("boom")
	_, err := f.orch.Publish(context.Background(), requests(p), "")
	require.NoError(t, err)

	configs, err := f.store.ListConfigs(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteConfig(context.Background(), configs[0].ID))
	f.addConfig(t, models.MethodAPI, false)
	f.addConfig(t, models.MethodEmail, false)

	_, err = f.orch.Retry(context.Background(), requests(f.get(t, p.ID)), "")
	require.ErrorIs(t, err, models.ErrConfigAmbiguous)
}

func TestRetryIsBounded(t *testing.T) {
	f := setup(t, pipeline.Options{MaxAttempts: 3})
	p := f.addPost(t, "p", models.StatusExtracted)
	f.rewriter.setFail("p", models.Errorf(models.KindTransport, "rewrite", "connection reset"))

	f.orch.Rewrite(context.Background(), requests(p))
	for i := 0; i < 2; i++ {
		outcomes, err := f.orch.Retry(context.Background(), requests(f.get(t, p.ID)), "")
		require.NoError(t, err)
		require.Equal(t, models.KindTransport, outcomes[0].Kind)
	}
	require.Equal(t, 3, f.get(t, p.ID).Attempts)

	f.rewriter.setFail("p", nil)
	outcomes, err := f.orch.Retry(context.Background(), requests(f.get(t, p.ID)), "")
	require.NoError(t, err)
	require.ErrorIs(t, outcomes[0].Err, models.ErrRetriesExhausted)
	require.Equal(t, models.KindValidation, outcomes[0].Kind)
	require.Equal(t, models.StatusFailed, f.get(t, p.ID).Status)
	require.Equal(t, 3, f.rewriter.calls)
}

func TestRetryBacksOffAfterRateLimit(t *testing.T) {
	f := setup(t, pipeline.Options{RetryBackoff: time.Minute})
	p := f.addPost(t, "p", models.StatusExtracted)
	f.rewriter.setFail("p", models.Errorf(models.KindRateLimited, "rewrite", "429"))
	f.orch.Rewrite(context.Background(), requests(p))
	f.rewriter.setFail("p", nil)

	outcomes, err := f.orch.Retry(context.Background(), requests(f.get(t, p.ID)), "")
	require.NoError(t, err)
	require.Equal(t, models.KindRateLimited, outcomes[0].Kind)
	require.Equal(t, 1, f.get(t, p.ID).Attempts)

	f.now = start.Add(2 * time.Minute)
	outcomes, err = f.orch.Retry(context.Background(), requests(f.get(t, p.ID)), "")
	require.NoError(t, err)
	require.True(t, outcomes[0].OK())
	require.Equal(t, models.StatusRewritten, f.get(t, p.ID).Status)
}

func TestRetryBackoffIsCappedForManyAttempts(t *testing.T) {
	f := setup(t, pipeline.Options{RetryBackoff: time.Minute, MaxAttempts: 100})
	p := f.addPost(t, "p", models.StatusExtracted)
	attempts := 70
	u := models.PostUpdate{Attempts: &attempts}
	u.RecordFailure(models.StageRewrite, models.Errorf(models.KindRateLimited, "rewrite", "429"))
	_, err := f.store.UpdatePost(context.Background(), p.ID, models.StatusExtracted, u)
	require.NoError(t, err)

	f.now = start.Add(time.Hour)
	outcomes, err := f.orch.Retry(context.Background(), requests(f.get(t, p.ID)), "")
	require.NoError(t, err)
	require.Equal(t, models.KindRateLimited, outcomes[0].Kind)
	require.Zero(t, f.rewriter.calls)

	stored := f.get(t, p.ID)
	require.Equal(t, models.StatusFailed, stored.Status)
	require.Equal(t, 70, stored.Attempts)

	// 1024 минуты спустя пауза истекает
	f.now = start.Add(1025 * time.Minute)
	outcomes, err = f.orch.Retry(context.Background(), requests(stored), "")
	require.NoError(t, err)
	require.True(t, outcomes[0].OK())
	require.Equal(t, models.StatusRewritten, f.get(t, p.ID).Status)
}

func TestRetryRejectsHealthyPost(t *testing.T) {
	f := setup(t, pipeline.Options{})
	p := f.addPost(t, "p", models.StatusRewritten)

	outcomes, err := f.orch.Retry(context.Background(), requests(p), "")
	require.NoError(t, err)
	require.Equal(t, models.KindValidation, outcomes[0].Kind)
}

func TestPublishDue(t *testing.T) {
	f := setup(t, pipeline.Options{Workers: 1})
	f.addConfig(t, models.MethodAPI, true)
	ctx := context.Background()

	late := f.addPost(t, "late", models.StatusRewritten)
	early := f.addPost(t, "early", models.StatusRewritten)
	_, err := f.orch.Schedule(ctx, requests(late), start.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = f.orch.Schedule(ctx, requests(early), start.Add(time.Hour))
	require.NoError(t, err)

	outcomes, err := f.orch.PublishDue(ctx, start.Add(30*time.Minute), "")
	require.NoError(t, err)
	require.Empty(t, outcomes)

	outcomes, err = f.orch.PublishDue(ctx, start.Add(3*time.Hour), "")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, []string{early.ID, late.ID}, f.api.calls())
	require.Equal(t, float64(2), testutil.ToFloat64(f.metrics.DuePosts))

	due, err := f.store.GetDuePosts(ctx, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestBatchCancellationStopsLaunching(t *testing.T) {
	f := setup(t, pipeline.Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	posts := []*models.Post{
		f.addPost(t, "a", models.StatusExtracted),
		f.addPost(t, "b", models.StatusExtracted),
		f.addPost(t, "c", models.StatusExtracted),
	}
	f.rewriter.hook = func(string) { cancel() }

	outcomes := f.orch.Rewrite(ctx, requests(posts...))
	require.Len(t, outcomes, 3)
	require.True(t, outcomes[0].OK())
	require.Equal(t, models.StatusRewritten, f.get(t, posts[0].ID).Status)
	for _, out := range outcomes[1:] {
		require.ErrorIs(t, out.Err, context.Canceled)
	}
	require.Equal(t, models.StatusExtracted, f.get(t, posts[1].ID).Status)
	require.Equal(t, models.StatusExtracted, f.get(t, posts[2].ID).Status)
	require.Equal(t, 1, f.rewriter.calls)
}

func TestPending(t *testing.T) {
	f := setup(t, pipeline.Options{})
	a := f.addPost(t, "a", models.StatusExtracted)
	f.addPost(t, "b", models.StatusRewritten)

	reqs, err := f.orch.Pending(context.Background(), models.StatusExtracted)
	require.NoError(t, err)
	require.Equal(t, []pipeline.Request{{PostID: a.ID, Observed: models.StatusExtracted}}, reqs)
}
