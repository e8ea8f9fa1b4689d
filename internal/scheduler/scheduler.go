package scheduler

import (
	"time"
)

// DefaultSpacing: интервал между постами одного дня.
const DefaultSpacing = 2 * time.Hour

// Plan раскладывает n постов начиная со start: perDay в сутки,
// внутри дня через spacing. Пост i получает
// start + (i / perDay) дней + (i % perDay) * spacing.
func Plan(n int, start time.Time, perDay int, spacing time.Duration) []time.Time {
	if perDay < 1 {
		perDay = 1
	}
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	slots := make([]time.Time, n)
	for i := range slots {
		day := i / perDay
		slot := i % perDay
		slots[i] = start.AddDate(0, 0, day).Add(time.Duration(slot) * spacing)
	}
	return slots
}

// NextAvailableSlot возвращает время после последнего запланированного поста
// плюс spacing, либо start, если ничего не запланировано позже start.
func NextAvailableSlot(scheduled []time.Time, start time.Time, spacing time.Duration) time.Time {
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	latest := start
	found := false
	for _, t := range scheduled {
		if t.After(latest) {
			latest = t
			found = true
		}
	}
	if !found {
		return start
	}
	return latest.Add(spacing)
}
