package pipeline

import (
	"time"

	"blog_migrator/internal/models"
)

// transitions перечисляет допустимые переходы статусов.
// scheduled -> scheduled это перенос публикации, failed -> * это повтор упавшего шага.
var transitions = map[models.Status][]models.Status{
	models.StatusExtracted: {models.StatusRewritten, models.StatusFailed},
	models.StatusRewritten: {models.StatusScheduled, models.StatusPublished, models.StatusFailed},
	models.StatusScheduled: {models.StatusScheduled, models.StatusPublished, models.StatusFailed},
	models.StatusFailed:    {models.StatusRewritten, models.StatusPublished, models.StatusFailed},
}

// NextStatuses возвращает статусы, в которые можно перейти из from.
func NextStatuses(from models.Status) []models.Status {
	return append([]models.Status(nil), transitions[from]...)
}

// CanTransition сообщает, разрешён ли переход from -> to.
func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Guard проверяет, что шаг stage применим к посту в момент now.
// Нарушение это ошибка вызывающего (validation_error), пост не меняется.
func Guard(stage models.Stage, p *models.Post, now time.Time) error {
	switch stage {
	case models.StageRewrite:
		if p.Status != models.StatusExtracted {
			return illegal(stage, p, models.StatusRewritten)
		}
	case models.StageSchedule:
		if p.Status != models.StatusRewritten && p.Status != models.StatusScheduled {
			return illegal(stage, p, models.StatusScheduled)
		}
	case models.StagePublish:
		switch p.Status {
		case models.StatusRewritten:
		case models.StatusScheduled:
			if p.ScheduledTime == nil || p.ScheduledTime.After(now) {
				return models.Errorf(models.KindValidation, "publish",
					"post %s is scheduled for %s and not due yet", p.ID, formatTime(p.ScheduledTime))
			}
		default:
			return illegal(stage, p, models.StatusPublished)
		}
	default:
		return models.Errorf(models.KindValidation, string(stage), "unknown stage %q", stage)
	}
	return nil
}

// retryStage выбирает шаг для повтора упавшего поста.
func retryStage(p *models.Post) (models.Stage, error) {
	if p.Status != models.StatusFailed {
		return "", models.Errorf(models.KindValidation, "retry", "post %s is %s, not failed", p.ID, p.Status)
	}
	switch p.FailedStage {
	case models.StageRewrite, models.StagePublish:
		return p.FailedStage, nil
	}
	return "", models.Errorf(models.KindValidation, "retry", "post %s has no retryable stage", p.ID)
}

func illegal(stage models.Stage, p *models.Post, to models.Status) error {
	return models.Errorf(models.KindValidation, string(stage),
		"post %s cannot move from %s to %s (allowed: %v)", p.ID, p.Status, to, NextStatuses(p.Status))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "<none>"
	}
	return t.Format(time.RFC3339)
}
