package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"blog_migrator/internal/models"

	"github.com/google/uuid"
)

// MemoryStore хранит записи в памяти процесса с теми же ограничениями,
// что и схема PostgreSQL. Используется в тестах и для пробных запусков.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	sources map[string]*models.Source
	posts   map[string]*models.Post
	configs map[string]*models.PublisherConfig
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		sources: make(map[string]*models.Source),
		posts:   make(map[string]*models.Post),
		configs: make(map[string]*models.PublisherConfig),
	}
}

// SetClock подменяет часы для меток времени.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() {}

// tick возвращает время строго после prev.
func (m *MemoryStore) tick(prev time.Time) time.Time {
	t := m.now()
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

func (m *MemoryStore) CreateSource(_ context.Context, src *models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		if s.URL == src.URL {
			return models.Errorf(models.KindValidation, "create source", "source %s already exists", src.URL)
		}
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	src.CreatedAt = m.tick(m.latestSource())
	cp := *src
	m.sources[src.ID] = &cp
	return nil
}

func (m *MemoryStore) latestSource() time.Time {
	var latest time.Time
	for _, s := range m.sources {
		if s.CreatedAt.After(latest) {
			latest = s.CreatedAt
		}
	}
	return latest
}

func (m *MemoryStore) GetSource(_ context.Context, id string) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	cp.PostCount = m.countPosts(id)
	return &cp, nil
}

func (m *MemoryStore) ListSources(context.Context) ([]models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Source, 0, len(m.sources))
	for _, s := range m.sources {
		cp := *s
		cp.PostCount = m.countPosts(s.ID)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) countPosts(sourceID string) int {
	n := 0
	for _, p := range m.posts {
		if p.SourceID == sourceID {
			n++
		}
	}
	return n
}

func (m *MemoryStore) DeleteSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.sources, id)
	for pid, p := range m.posts {
		if p.SourceID == id {
			delete(m.posts, pid)
		}
	}
	return nil
}

func (m *MemoryStore) CreatePost(_ context.Context, post *models.Post) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if post.SourceID == "" {
		return false, models.Errorf(models.KindValidation, "create post", "post %s has no source", post.SourceURL)
	}
	if _, ok := m.sources[post.SourceID]; !ok {
		return false, models.Errorf(models.KindValidation, "create post", "source %s does not exist", post.SourceID)
	}
	for _, p := range m.posts {
		if p.SourceID == post.SourceID && p.SourceURL == post.SourceURL {
			return false, nil
		}
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.Status == "" {
		post.Status = models.StatusExtracted
	}
	post.CreatedAt = m.tick(m.latestPost())
	post.UpdatedAt = post.CreatedAt
	m.posts[post.ID] = clonePost(post)
	return true, nil
}

func (m *MemoryStore) latestPost() time.Time {
	var latest time.Time
	for _, p := range m.posts {
		if p.CreatedAt.After(latest) {
			latest = p.CreatedAt
		}
	}
	return latest
}

func (m *MemoryStore) GetPost(_ context.Context, id string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return m.withSourceName(p), nil
}

func (m *MemoryStore) withSourceName(p *models.Post) *models.Post {
	cp := clonePost(p)
	if s, ok := m.sources[p.SourceID]; ok {
		cp.SourceName = s.Name
	}
	return cp
}

func (m *MemoryStore) ListPosts(_ context.Context, filter models.PostFilter) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Post
	for _, p := range m.posts {
		if filter.SourceID != "" && p.SourceID != filter.SourceID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *m.withSourceName(p))
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(&out[i], &out[j]) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetPostsByStatus(ctx context.Context, status models.Status) ([]models.Post, error) {
	return m.ListPosts(ctx, models.PostFilter{Status: status})
}

func (m *MemoryStore) GetDuePosts(_ context.Context, now time.Time) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Post
	for _, p := range m.posts {
		if p.Status == models.StatusScheduled && p.ScheduledTime != nil && !p.ScheduledTime.After(now) {
			out = append(out, *m.withSourceName(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ScheduledTime, out[j].ScheduledTime
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return createdBefore(&out[i], &out[j])
	})
	return out, nil
}

func (m *MemoryStore) RecentPosts(_ context.Context, limit int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Post, 0, len(m.posts))
	for _, p := range m.posts {
		out = append(out, *m.withSourceName(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListSourceURLs(_ context.Context, sourceID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := make(map[string]bool)
	for _, p := range m.posts {
		if p.SourceID == sourceID {
			urls[p.SourceURL] = true
		}
	}
	return urls, nil
}

func (m *MemoryStore) UpdatePost(_ context.Context, id string, expected models.Status, u models.PostUpdate) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if p.Status != expected {
		return nil, models.ErrStateConflict
	}
	p.Apply(u)
	p.UpdatedAt = m.tick(p.UpdatedAt)
	return m.withSourceName(p), nil
}

func (m *MemoryStore) DeletePost(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.posts, id)
	return nil
}

func (m *MemoryStore) Statistics(context.Context) (models.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := models.Statistics{TotalSources: len(m.sources)}
	for _, p := range m.posts {
		stats.Count(p.Status, 1)
	}
	return stats, nil
}

func (m *MemoryStore) ClearAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = make(map[string]*models.Post)
	m.sources = make(map[string]*models.Source)
	return nil
}

func (m *MemoryStore) CreateConfig(_ context.Context, cfg *models.PublisherConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := m.now()
	if cfg.IsDefault {
		m.clearDefault(cfg.ID, now)
	}
	cfg.CreatedAt = m.tick(m.latestConfig())
	cfg.UpdatedAt = cfg.CreatedAt
	cp := *cfg
	m.configs[cfg.ID] = &cp
	return nil
}

func (m *MemoryStore) latestConfig() time.Time {
	var latest time.Time
	for _, c := range m.configs {
		if c.CreatedAt.After(latest) {
			latest = c.CreatedAt
		}
	}
	return latest
}

func (m *MemoryStore) UpdateConfig(_ context.Context, cfg *models.PublisherConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.configs[cfg.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cfg.IsDefault {
		m.clearDefault(cfg.ID, m.now())
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = m.tick(existing.UpdatedAt)
	cp := *cfg
	m.configs[cfg.ID] = &cp
	return nil
}

func (m *MemoryStore) clearDefault(except string, now time.Time) {
	for id, c := range m.configs {
		if id != except && c.IsDefault {
			c.IsDefault = false
			c.UpdatedAt = now
		}
	}
}

func (m *MemoryStore) SetDefaultConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return models.ErrNotFound
	}
	now := m.now()
	m.clearDefault(id, now)
	c.IsDefault = true
	c.UpdatedAt = m.tick(c.UpdatedAt)
	return nil
}

func (m *MemoryStore) GetConfig(_ context.Context, id string) (*models.PublisherConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) GetDefaultConfig(context.Context) (*models.PublisherConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.configs {
		if c.IsDefault {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListConfigs(context.Context) ([]models.PublisherConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PublisherConfig, 0, len(m.configs))
	for _, c := range m.configs {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) DeleteConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.configs, id)
	return nil
}

func createdBefore(a, b *models.Post) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func clonePost(p *models.Post) *models.Post {
	cp := *p
	cp.Images = append([]string(nil), p.Images...)
	cp.Tags = append([]string(nil), p.Tags...)
	cp.SuggestedTags = append([]string(nil), p.SuggestedTags...)
	if p.ScheduledTime != nil {
		t := *p.ScheduledTime
		cp.ScheduledTime = &t
	}
	return &cp
}
