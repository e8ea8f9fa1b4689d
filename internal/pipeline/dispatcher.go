package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blog_migrator/internal/models"
)

// ConfigStore нужен диспетчеру для выбора конфигурации публикации.
type ConfigStore interface {
	GetConfig(ctx context.Context, id string) (*models.PublisherConfig, error)
	GetDefaultConfig(ctx context.Context) (*models.PublisherConfig, error)
	ListConfigs(ctx context.Context) ([]models.PublisherConfig, error)
	GetDuePosts(ctx context.Context, now time.Time) ([]models.Post, error)
}

// Dispatcher выбирает конфигурацию и способ публикации.
type Dispatcher struct {
	store      ConfigStore
	publishers map[models.PublishMethod]Publisher
}

func NewDispatcher(store ConfigStore, api, email Publisher) *Dispatcher {
	return &Dispatcher{
		store: store,
		publishers: map[models.PublishMethod]Publisher{
			models.MethodAPI:   api,
			models.MethodEmail: email,
		},
	}
}

// ResolveConfig: явный id, затем конфигурация по умолчанию, затем единственная.
// Во всех остальных случаях configuration_ambiguity.
func (d *Dispatcher) ResolveConfig(ctx context.Context, configID string) (*models.PublisherConfig, error) {
	if configID != "" {
		cfg, err := d.store.GetConfig(ctx, configID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Errorf(models.KindConfigAmbiguity, "resolve config", "publisher config %s does not exist", configID)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := d.store.GetDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	if cfg != nil {
		return cfg, nil
	}

	configs, err := d.store.ListConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	switch len(configs) {
	case 0:
		return nil, models.ErrNoConfig
	case 1:
		return &configs[0], nil
	}
	return nil, models.ErrConfigAmbiguous
}

// PublisherFor возвращает исполнителя для метода конфигурации и уровень
// доверия к результату: API подтверждает публикацию, email только передаёт письмо.
func (d *Dispatcher) PublisherFor(cfg *models.PublisherConfig) (Publisher, models.PublishConfidence, error) {
	pub := d.publishers[cfg.PublishMethod]
	if pub == nil {
		return nil, models.ConfidenceNone, models.Errorf(models.KindConfigAmbiguity, "dispatch",
			"no publisher for method %q", cfg.PublishMethod)
	}
	if cfg.PublishMethod == models.MethodEmail {
		return pub, models.ConfidenceUnconfirmed, nil
	}
	return pub, models.ConfidenceConfirmed, nil
}

// Resolve выбирает конфигурацию, проверяет её и находит исполнителя.
func (d *Dispatcher) Resolve(ctx context.Context, configID string) (*models.PublisherConfig, Publisher, models.PublishConfidence, error) {
	cfg, err := d.ResolveConfig(ctx, configID)
	if err != nil {
		return nil, nil, models.ConfidenceNone, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, models.ConfidenceNone, err
	}
	pub, confidence, err := d.PublisherFor(cfg)
	if err != nil {
		return nil, nil, models.ConfidenceNone, err
	}
	return cfg, pub, confidence, nil
}

// DuePosts возвращает запланированные посты со временем <= now, ранние первыми.
func (d *Dispatcher) DuePosts(ctx context.Context, now time.Time) ([]models.Post, error) {
	posts, err := d.store.GetDuePosts(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("due posts: %w", err)
	}
	return posts, nil
}
