package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/metrics"
	"blog_migrator/internal/models"
	"blog_migrator/internal/scheduler"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers      = 2
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 30 * time.Second
)

// Store это часть хранилища, которой пользуется конвейер.
type Store interface {
	ConfigStore
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSourceURLs(ctx context.Context, sourceID string) (map[string]bool, error)
	CreatePost(ctx context.Context, post *models.Post) (bool, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	GetPostsByStatus(ctx context.Context, status models.Status) ([]models.Post, error)
	UpdatePost(ctx context.Context, id string, expected models.Status, u models.PostUpdate) (*models.Post, error)
}

type Options struct {
	Workers     int
	MaxAttempts int
	// RetryBackoff задаёт паузу перед повтором после rate_limited, удваивается
	// с каждой попыткой. Отрицательное значение отключает паузу.
	RetryBackoff time.Duration
	Now          func() time.Time
	Metrics      *metrics.Metrics
}

// Request называет пост и статус, который вызывающий видел последним.
// Пустой Observed отключает проверку.
type Request struct {
	PostID   string        `json:"post_id"`
	Observed models.Status `json:"observed_status,omitempty"`
}

// Outcome результат одного поста в пачке.
type Outcome struct {
	PostID     string                   `json:"post_id"`
	Stage      models.Stage             `json:"stage"`
	Status     models.Status            `json:"status,omitempty"`
	Kind       models.ErrorKind         `json:"error_kind,omitempty"`
	Err        error                    `json:"-"`
	Error      string                   `json:"error,omitempty"`
	URL        string                   `json:"published_url,omitempty"`
	Confidence models.PublishConfidence `json:"publish_confidence,omitempty"`
}

// OK сообщает об успешном переходе.
func (o Outcome) OK() bool { return o.Err == nil }

func (o *Outcome) fail(err error) {
	o.Err = err
	o.Error = err.Error()
	o.Kind = models.KindOf(err)
}

// Orchestrator проводит пачки постов через шаги конвейера.
// Ошибка одного поста записывается в его Outcome и не прерывает пачку.
type Orchestrator struct {
	store      Store
	extractor  Extractor
	rewriter   Rewriter
	dispatcher *Dispatcher
	opts       Options
}

func New(store Store, extractor Extractor, rewriter Rewriter, dispatcher *Dispatcher, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Orchestrator{store: store, extractor: extractor, rewriter: rewriter, dispatcher: dispatcher, opts: opts}
}

// Pending строит запросы для всех постов в статусе status.
func (o *Orchestrator) Pending(ctx context.Context, status models.Status) ([]Request, error) {
	posts, err := o.store.GetPostsByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("pending posts: %w", err)
	}
	reqs := make([]Request, len(posts))
	for i, p := range posts {
		reqs[i] = Request{PostID: p.ID, Observed: p.Status}
	}
	return reqs, nil
}

// ExtractSource извлекает статьи источника и сохраняет новые посты.
// Повторный запуск на неизменном источнике ничего не добавляет.
func (o *Orchestrator) ExtractSource(ctx context.Context, sourceID string, maxPosts int) (ExtractReport, error) {
	start := time.Now()
	defer func() { o.observe(models.StageExtract, start) }()

	src, err := o.store.GetSource(ctx, sourceID)
	if err != nil {
		return ExtractReport{SourceID: sourceID}, fmt.Errorf("extract source %s: %w", sourceID, err)
	}
	known, err := o.store.ListSourceURLs(ctx, src.ID)
	if err != nil {
		return ExtractReport{SourceID: sourceID}, fmt.Errorf("extract source %s: %w", sourceID, err)
	}

	log := logger.Service("pipeline").WithFields(logger.Fields{"stage": models.StageExtract, "source_id": src.ID, "url": src.URL})
	posts, report := ExtractPosts(ctx, o.extractor, src, known, maxPosts)
	for _, p := range posts {
		created, err := o.store.CreatePost(ctx, p)
		switch {
		case err != nil:
			log.Warnf("Save post failed: %v", err)
			report.Skipped++
		case !created:
			report.Duplicates++
		default:
			report.Created++
		}
	}

	o.opts.Metrics.Extracted.Add(float64(report.Created))
	o.opts.Metrics.Duplicates.Add(float64(report.Duplicates))
	o.opts.Metrics.Skipped.Add(float64(report.Skipped))
	if report.Reason != "" {
		log.Warnf("Extraction returned nothing: %s", report.Reason)
	}
	log.Infof("Extracted %d new posts (%d duplicates, %d skipped)", report.Created, report.Duplicates, report.Skipped)
	return report, nil
}

// Rewrite переводит посты extracted -> rewritten.
func (o *Orchestrator) Rewrite(ctx context.Context, reqs []Request) []Outcome {
	return o.run(ctx, models.StageRewrite, reqs, func(ctx context.Context, _ int, req Request) Outcome {
		out := Outcome{PostID: req.PostID, Stage: models.StageRewrite}
		p, err := o.load(ctx, req)
		if err == nil {
			err = Guard(models.StageRewrite, p, o.opts.Now())
		}
		if err != nil {
			if p != nil {
				out.Status = p.Status
			}
			out.fail(err)
			return out
		}
		return o.rewrite(ctx, p)
	})
}

// Schedule назначает время публикации. Время в прошлом отклоняется целиком,
// ни один пост не меняется.
func (o *Orchestrator) Schedule(ctx context.Context, reqs []Request, at time.Time) ([]Outcome, error) {
	if err := o.checkFuture(at); err != nil {
		return nil, err
	}
	return o.run(ctx, models.StageSchedule, reqs, func(ctx context.Context, _ int, req Request) Outcome {
		return o.schedule(ctx, req, at)
	}), nil
}

// SchedulePlan раскладывает посты по дням начиная со start, perDay в сутки.
func (o *Orchestrator) SchedulePlan(ctx context.Context, reqs []Request, start time.Time, perDay int) ([]Outcome, error) {
	if err := o.checkFuture(start); err != nil {
		return nil, err
	}
	slots := scheduler.Plan(len(reqs), start, perDay, scheduler.DefaultSpacing)
	return o.run(ctx, models.StageSchedule, reqs, func(ctx context.Context, i int, req Request) Outcome {
		return o.schedule(ctx, req, slots[i])
	}), nil
}

// NextSlot возвращает ближайшее свободное время: через DefaultSpacing после
// последнего запланированного поста, но не раньше now + DefaultSpacing.
func (o *Orchestrator) NextSlot(ctx context.Context) (time.Time, error) {
	posts, err := o.store.GetPostsByStatus(ctx, models.StatusScheduled)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduled posts: %w", err)
	}
	times := make([]time.Time, 0, len(posts))
	for _, p := range posts {
		if p.ScheduledTime != nil {
			times = append(times, *p.ScheduledTime)
		}
	}
	start := o.opts.Now().Add(scheduler.DefaultSpacing)
	return scheduler.NextAvailableSlot(times, start, scheduler.DefaultSpacing), nil
}

// Publish публикует посты через выбранную конфигурацию.
// Неоднозначная конфигурация прерывает пачку до первого поста.
func (o *Orchestrator) Publish(ctx context.Context, reqs []Request, configID string) ([]Outcome, error) {
	return o.publishBatch(ctx, reqs, configID, o.opts.Now())
}

// PublishDue публикует все запланированные посты, время которых наступило.
func (o *Orchestrator) PublishDue(ctx context.Context, now time.Time, configID string) ([]Outcome, error) {
	due, err := o.dispatcher.DuePosts(ctx, now)
	if err != nil {
		return nil, err
	}
	o.opts.Metrics.DuePosts.Set(float64(len(due)))
	if len(due) == 0 {
		return nil, nil
	}
	reqs := make([]Request, len(due))
	for i, p := range due {
		reqs[i] = Request{PostID: p.ID, Observed: models.StatusScheduled}
	}
	logger.Service("pipeline").WithField("stage", models.StagePublish).Infof("Publishing %d due posts", len(due))
	return o.publishBatch(ctx, reqs, configID, now)
}

// Retry повторяет упавший шаг. Число попыток ограничено MaxAttempts.
func (o *Orchestrator) Retry(ctx context.Context, reqs []Request, configID string) ([]Outcome, error) {
	var target *publishTarget
	for _, req := range reqs {
		p, err := o.store.GetPost(ctx, req.PostID)
		if err != nil || p.Status != models.StatusFailed || p.FailedStage != models.StagePublish {
			continue
		}
		cfg, pub, confidence, err := o.dispatcher.Resolve(ctx, configID)
		if err != nil {
			return nil, err
		}
		target = &publishTarget{cfg: cfg, pub: pub, confidence: confidence}
		break
	}

	now := o.opts.Now()
	return o.run(ctx, "retry", reqs, func(ctx context.Context, _ int, req Request) Outcome {
		out := Outcome{PostID: req.PostID}
		p, err := o.load(ctx, req)
		if err != nil {
			out.fail(err)
			return out
		}
		stage, err := retryStage(p)
		if err == nil {
			out.Stage = stage
			err = o.checkRetry(p, now)
		}
		if err != nil {
			out.Status = p.Status
			out.fail(err)
			return out
		}
		if stage == models.StageRewrite {
			return o.rewrite(ctx, p)
		}
		if target == nil {
			out.Status = p.Status
			out.fail(models.ErrConfigAmbiguous)
			return out
		}
		return o.publish(ctx, p, target)
	}), nil
}

type publishTarget struct {
	cfg        *models.PublisherConfig
	pub        Publisher
	confidence models.PublishConfidence
}

func (o *Orchestrator) publishBatch(ctx context.Context, reqs []Request, configID string, now time.Time) ([]Outcome, error) {
	cfg, pub, confidence, err := o.dispatcher.Resolve(ctx, configID)
	if err != nil {
		logger.Service("pipeline").WithField("stage", models.StagePublish).Errorf("Publish batch aborted: %v", err)
		return nil, err
	}
	target := &publishTarget{cfg: cfg, pub: pub, confidence: confidence}
	return o.run(ctx, models.StagePublish, reqs, func(ctx context.Context, _ int, req Request) Outcome {
		out := Outcome{PostID: req.PostID, Stage: models.StagePublish}
		p, err := o.load(ctx, req)
		if err == nil {
			err = Guard(models.StagePublish, p, now)
		}
		if err != nil {
			if p != nil {
				out.Status = p.Status
			}
			out.fail(err)
			return out
		}
		return o.publish(ctx, p, target)
	}), nil
}

func (o *Orchestrator) rewrite(ctx context.Context, p *models.Post) Outcome {
	u, err := RewritePost(ctx, o.rewriter, p)
	return o.commit(ctx, models.StageRewrite, p, u, err)
}

func (o *Orchestrator) publish(ctx context.Context, p *models.Post, t *publishTarget) Outcome {
	u, err := PublishPost(ctx, t.pub, t.cfg, t.confidence, p)
	out := o.commit(ctx, models.StagePublish, p, u, err)
	if out.OK() {
		out.Confidence = t.confidence
	}
	return out
}

func (o *Orchestrator) schedule(ctx context.Context, req Request, at time.Time) Outcome {
	out := Outcome{PostID: req.PostID, Stage: models.StageSchedule}
	p, err := o.load(ctx, req)
	if err == nil {
		err = Guard(models.StageSchedule, p, o.opts.Now())
	}
	if err != nil {
		if p != nil {
			out.Status = p.Status
		}
		out.fail(err)
		return out
	}
	u := models.PostUpdate{Status: models.StatusScheduled, ScheduledTime: &at}
	return o.commit(ctx, models.StageSchedule, p, u, nil)
}

// commit сохраняет результат исполнителя при условии, что статус поста не изменился.
func (o *Orchestrator) commit(ctx context.Context, stage models.Stage, p *models.Post, u models.PostUpdate, execErr error) Outcome {
	out := Outcome{PostID: p.ID, Stage: stage}
	log := logger.Service("pipeline").WithFields(logger.Fields{"stage": stage, "post_id": p.ID})

	if !CanTransition(p.Status, u.Status) {
		out.Status = p.Status
		out.fail(illegal(stage, p, u.Status))
		return out
	}

	updated, err := o.store.UpdatePost(ctx, p.ID, p.Status, u)
	if err != nil {
		if errors.Is(err, models.ErrStateConflict) {
			log.Warnf("Post changed by another writer, result discarded")
		} else {
			log.Errorf("Save post failed: %v", err)
		}
		out.fail(err)
		return out
	}

	out.Status = updated.Status
	out.URL = updated.PublishedURL
	if execErr != nil {
		kind := models.KindOf(execErr)
		log.WithFields(logger.Fields{"kind": kind, "retryable": models.Retryable(kind)}).Warnf("Transition failed: %v", execErr)
		out.fail(execErr)
		return out
	}
	log.Infof("Post moved to %s", updated.Status)
	return out
}

// load читает пост и сверяет статус с тем, что видел вызывающий.
func (o *Orchestrator) load(ctx context.Context, req Request) (*models.Post, error) {
	p, err := o.store.GetPost(ctx, req.PostID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewError(models.KindValidation, "load post", fmt.Errorf("post %s: %w", req.PostID, err))
	}
	if err != nil {
		return nil, fmt.Errorf("load post %s: %w", req.PostID, err)
	}
	if req.Observed != "" && p.Status != req.Observed {
		return nil, models.ErrStateConflict
	}
	return p, nil
}

func (o *Orchestrator) checkFuture(at time.Time) error {
	if now := o.opts.Now(); !at.After(now) {
		return models.Errorf(models.KindValidation, "schedule", "scheduled time %s is not in the future", at.Format(time.RFC3339))
	}
	return nil
}

// maxBackoffShift ограничивает рост паузы: RetryBackoff * 1024, сдвиг дальше переполняет Duration.
const maxBackoffShift = 10

func (o *Orchestrator) checkRetry(p *models.Post, now time.Time) error {
	if p.Attempts >= o.opts.MaxAttempts {
		return fmt.Errorf("post %s after %d attempts: %w", p.ID, p.Attempts, models.ErrRetriesExhausted)
	}
	if p.LastErrorKind == models.KindRateLimited && o.opts.RetryBackoff > 0 {
		wait := o.opts.RetryBackoff << min(max(p.Attempts-1, 0), maxBackoffShift)
		if next := p.UpdatedAt.Add(wait); now.Before(next) {
			return models.Errorf(models.KindRateLimited, "retry", "post %s is backing off until %s", p.ID, next.Format(time.RFC3339))
		}
	}
	return nil
}

// run обрабатывает пачку не более чем Workers горутинами. После отмены ctx
// новые посты не запускаются; уже начатые доводятся до конца.
func (o *Orchestrator) run(ctx context.Context, stage models.Stage, reqs []Request, fn func(context.Context, int, Request) Outcome) []Outcome {
	start := time.Now()
	outcomes := make([]Outcome, len(reqs))

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)
	cancelled := func(i int, req Request) bool {
		err := ctx.Err()
		if err == nil {
			return false
		}
		outcomes[i] = Outcome{PostID: req.PostID, Stage: stage}
		outcomes[i].fail(err)
		return true
	}
	for i, req := range reqs {
		if cancelled(i, req) {
			continue
		}
		g.Go(func() error {
			// слот мог освободиться уже после отмены
			if !cancelled(i, req) {
				outcomes[i] = fn(context.WithoutCancel(ctx), i, req)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		label := string(out.Status)
		if !out.OK() {
			label = string(out.Kind)
			if label == "" {
				label = "error"
			}
		}
		o.opts.Metrics.Transitions.WithLabelValues(string(out.Stage), label).Inc()
	}
	o.observe(stage, start)

	logger.Service("pipeline").WithField("stage", stage).Info(Summary(outcomes))
	return outcomes
}

func (o *Orchestrator) observe(stage models.Stage, start time.Time) {
	o.opts.Metrics.BatchDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}
