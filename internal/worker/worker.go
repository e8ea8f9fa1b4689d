package worker

import (
	"context"
	"time"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/pipeline"
)

// Publisher публикует наступившие посты; реализуется pipeline.Orchestrator.
type Publisher interface {
	PublishDue(ctx context.Context, now time.Time, configID string) ([]pipeline.Outcome, error)
}

// Worker выполняет задачу планировщика: публикует посты, время которых пришло.
type Worker struct {
	publisher Publisher
	configID  string
}

func NewWorker(publisher Publisher, configID string) *Worker {
	return &Worker{publisher: publisher, configID: configID}
}

// HandleTask публикует все посты, запланированные на now или раньше.
// Ошибки отдельных постов только логируются; возвращается ошибка всей пачки.
func (w *Worker) HandleTask(ctx context.Context, now time.Time) error {
	log := logger.Service("worker").WithField("now", now.Format(time.RFC3339))

	outcomes, err := w.publisher.PublishDue(ctx, now, w.configID)
	if err != nil {
		log.Errorf("Publish due posts failed: %v", err)
		return err
	}
	if len(outcomes) == 0 {
		log.Debug("No posts due")
		return nil
	}

	for _, out := range outcomes {
		if !out.OK() {
			log.WithFields(logger.Fields{"post_id": out.PostID, "kind": out.Kind}).Warnf("Publish failed: %v", out.Err)
		}
	}
	log.Infof("Processed %d due posts: %s", len(outcomes), pipeline.Summary(outcomes))
	return nil
}
