package db

import (
	"context"
	"strings"
	"time"

	"blog_migrator/internal/models"
)

// MemoryURL выбирает хранилище в памяти вместо PostgreSQL.
const MemoryURL = "memory://"

// Store общий контракт PostgreSQL и хранилища в памяти.
type Store interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close()

	CreateSource(ctx context.Context, src *models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSources(ctx context.Context) ([]models.Source, error)
	DeleteSource(ctx context.Context, id string) error

	CreatePost(ctx context.Context, post *models.Post) (bool, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	ListPosts(ctx context.Context, filter models.PostFilter) ([]models.Post, error)
	GetPostsByStatus(ctx context.Context, status models.Status) ([]models.Post, error)
	GetDuePosts(ctx context.Context, now time.Time) ([]models.Post, error)
	RecentPosts(ctx context.Context, limit int) ([]models.Post, error)
	ListSourceURLs(ctx context.Context, sourceID string) (map[string]bool, error)
	UpdatePost(ctx context.Context, id string, expected models.Status, u models.PostUpdate) (*models.Post, error)
	DeletePost(ctx context.Context, id string) error
	Statistics(ctx context.Context) (models.Statistics, error)
	ClearAll(ctx context.Context) error

	CreateConfig(ctx context.Context, cfg *models.PublisherConfig) error
	UpdateConfig(ctx context.Context, cfg *models.PublisherConfig) error
	SetDefaultConfig(ctx context.Context, id string) error
	GetConfig(ctx context.Context, id string) (*models.PublisherConfig, error)
	GetDefaultConfig(ctx context.Context) (*models.PublisherConfig, error)
	ListConfigs(ctx context.Context) ([]models.PublisherConfig, error)
	DeleteConfig(ctx context.Context, id string) error
}

var (
	_ Store = (*Database)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open подключается к хранилищу по адресу. memory:// даёт пустое хранилище в памяти.
func Open(ctx context.Context, url string) (Store, error) {
	if strings.HasPrefix(url, MemoryURL) {
		return NewMemoryStore(), nil
	}
	database, err := NewDB(ctx, url)
	if err != nil {
		return nil, err
	}
	return database, nil
}
