package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Status положение поста в конвейере.
type Status string

const (
	StatusExtracted Status = "extracted"
	StatusRewritten Status = "rewritten"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Statuses все статусы в порядке конвейера.
var Statuses = []Status{StatusExtracted, StatusRewritten, StatusScheduled, StatusPublished, StatusFailed}

func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", Errorf(KindValidation, "parse status", "unknown status %q", s)
}

// Stage название перехода конвейера.
type Stage string

const (
	StageExtract  Stage = "extract"
	StageRewrite  Stage = "rewrite"
	StageSchedule Stage = "schedule"
	StagePublish  Stage = "publish"
)

// PublishConfidence показывает, подтвердил ли блог назначения публикацию.
type PublishConfidence string

const (
	ConfidenceNone        PublishConfidence = ""
	ConfidenceConfirmed   PublishConfidence = "confirmed"
	ConfidenceUnconfirmed PublishConfidence = "unconfirmed"
)

// Source исходный блог, контент которого переносится.
type Source struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	PostCount int       `json:"post_count,omitempty"`
}

// NewSource проверяет адрес источника. Пустое имя заменяется хостом.
func NewSource(rawURL, name string) (*Source, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, Errorf(KindValidation, "create source", "url must be an absolute http(s) URL: %q", rawURL)
	}
	src := &Source{URL: u.String(), Name: strings.TrimSpace(name)}
	if src.Name == "" {
		src.Name = u.Host
	}
	return src, nil
}

// Post одна статья, проходящая через конвейер.
type Post struct {
	ID               string            `json:"id"`
	SourceID         string            `json:"source_id"`
	SourceName       string            `json:"source_name,omitempty"`
	Title            string            `json:"title"`
	Content          string            `json:"content"`
	SourceURL        string            `json:"source_url"`
	RewrittenTitle   string            `json:"rewritten_title,omitempty"`
	RewrittenContent string            `json:"rewritten_content,omitempty"`
	MetaDescription  string            `json:"meta_description,omitempty"`
	Images           []string          `json:"images"`
	Tags             []string          `json:"tags"`
	SuggestedTags    []string          `json:"suggested_tags"`
	Status           Status            `json:"status"`
	ScheduledTime    *time.Time        `json:"scheduled_time,omitempty"`
	PublishedURL     string            `json:"published_url,omitempty"`
	Confidence       PublishConfidence `json:"publish_confidence,omitempty"`
	ConfigID         string            `json:"config_id,omitempty"`
	Attempts         int               `json:"attempts"`
	FailedStage      Stage             `json:"failed_stage,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	LastErrorKind    ErrorKind         `json:"last_error_kind,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// DisplayTitle предпочитает переписанный заголовок.
func (p *Post) DisplayTitle() string {
	if p.RewrittenTitle != "" {
		return p.RewrittenTitle
	}
	return p.Title
}

// PublishTags объединяет исходные и предложенные теги без повторов.
func (p *Post) PublishTags() []string {
	seen := make(map[string]bool, len(p.Tags)+len(p.SuggestedTags))
	var out []string
	for _, list := range [][]string{p.Tags, p.SuggestedTags} {
		for _, t := range list {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Validate проверяет обязательные поля для текущего статуса.
func (p *Post) Validate() error {
	switch p.Status {
	case StatusRewritten:
		if p.RewrittenTitle == "" || p.RewrittenContent == "" {
			return Errorf(KindValidation, "validate post", "post %s is rewritten without rewritten title/content", p.ID)
		}
	case StatusScheduled:
		if p.ScheduledTime == nil {
			return Errorf(KindValidation, "validate post", "post %s is scheduled without a time", p.ID)
		}
	case StatusPublished:
		if p.PublishedURL == "" && p.Confidence != ConfidenceUnconfirmed {
			return Errorf(KindValidation, "validate post", "post %s is published without a url", p.ID)
		}
	case StatusExtracted, StatusFailed:
	default:
		return Errorf(KindValidation, "validate post", "post %s has unknown status %q", p.ID, p.Status)
	}
	return nil
}

// PostUpdate поля, которые меняет переход. Nil-поля не трогаются.
type PostUpdate struct {
	Status           Status
	RewrittenTitle   *string
	RewrittenContent *string
	MetaDescription  *string
	SuggestedTags    []string
	ScheduledTime    *time.Time
	ClearSchedule    bool
	PublishedURL     *string
	Confidence       *PublishConfidence
	ConfigID         *string
	Attempts         *int
	FailedStage      *Stage
	LastError        *string
	LastErrorKind    *ErrorKind
}

// Apply переносит заданные поля u в p.
func (p *Post) Apply(u PostUpdate) {
	if u.Status != "" {
		p.Status = u.Status
	}
	if u.RewrittenTitle != nil {
		p.RewrittenTitle = *u.RewrittenTitle
	}
	if u.RewrittenContent != nil {
		p.RewrittenContent = *u.RewrittenContent
	}
	if u.MetaDescription != nil {
		p.MetaDescription = *u.MetaDescription
	}
	if u.SuggestedTags != nil {
		p.SuggestedTags = append([]string(nil), u.SuggestedTags...)
	}
	if u.ClearSchedule {
		p.ScheduledTime = nil
	} else if u.ScheduledTime != nil {
		t := *u.ScheduledTime
		p.ScheduledTime = &t
	}
	if u.PublishedURL != nil {
		p.PublishedURL = *u.PublishedURL
	}
	if u.Confidence != nil {
		p.Confidence = *u.Confidence
	}
	if u.ConfigID != nil {
		p.ConfigID = *u.ConfigID
	}
	if u.Attempts != nil {
		p.Attempts = *u.Attempts
	}
	if u.FailedStage != nil {
		p.FailedStage = *u.FailedStage
	}
	if u.LastError != nil {
		p.LastError = *u.LastError
	}
	if u.LastErrorKind != nil {
		p.LastErrorKind = *u.LastErrorKind
	}
}

// ClearFailure сбрасывает сведения об ошибке после успешного перехода.
func (u *PostUpdate) ClearFailure() {
	empty := ""
	stage := Stage("")
	kind := ErrorKind("")
	u.LastError = &empty
	u.FailedStage = &stage
	u.LastErrorKind = &kind
}

// RecordFailure переводит пост в failed с указанием этапа и вида ошибки.
func (u *PostUpdate) RecordFailure(stage Stage, err error) {
	msg := err.Error()
	kind := KindOf(err)
	u.Status = StatusFailed
	u.FailedStage = &stage
	u.LastError = &msg
	u.LastErrorKind = &kind
}

type PostFilter struct {
	SourceID string
	Status   Status
	Limit    int
}

// Statistics сводка по хранилищу. Pending = extracted + rewritten + scheduled.
type Statistics struct {
	TotalSources int `json:"total_sources"`
	Extracted    int `json:"extracted"`
	Rewritten    int `json:"rewritten"`
	Scheduled    int `json:"scheduled"`
	Published    int `json:"published"`
	Failed       int `json:"failed"`
	Pending      int `json:"pending"`
}

func (s *Statistics) Count(st Status, n int) {
	switch st {
	case StatusExtracted:
		s.Extracted += n
	case StatusRewritten:
		s.Rewritten += n
	case StatusScheduled:
		s.Scheduled += n
	case StatusPublished:
		s.Published += n
	case StatusFailed:
		s.Failed += n
	}
	if st == StatusExtracted || st == StatusRewritten || st == StatusScheduled {
		s.Pending += n
	}
}

// RawArticle статья в том виде, в каком её вернул экстрактор.
type RawArticle struct {
	Title     string
	Content   string
	SourceURL string
	Images    []string
	Tags      []string
}

// Validate отбрасывает статьи, из которых нельзя сделать пост.
func (a RawArticle) Validate() error {
	if a.SourceURL == "" {
		return fmt.Errorf("article %q has no url", a.Title)
	}
	if a.Title == "" && a.Content == "" {
		return fmt.Errorf("article %s has no title or content", a.SourceURL)
	}
	return nil
}

// RewrittenArticle результат переписывания.
type RewrittenArticle struct {
	Title           string
	Content         string
	MetaDescription string
	SuggestedTags   []string
}
