package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"blog_migrator/internal/models"
)

var pastTense = map[models.Stage]string{
	models.StageExtract:  "extracted",
	models.StageRewrite:  "rewritten",
	models.StageSchedule: "scheduled",
	models.StagePublish:  "published",
}

// Summary сворачивает итоги пачки в строку вида
// "7 of 10 rewritten, 3 failed: rate_limited".
func Summary(outcomes []Outcome) string {
	if len(outcomes) == 0 {
		return "nothing to do"
	}

	verb := "processed"
	if v, ok := pastTense[outcomes[0].Stage]; ok {
		verb = v
		for _, out := range outcomes[1:] {
			if out.Stage != outcomes[0].Stage {
				verb = "processed"
				break
			}
		}
	}

	var ok, unconfirmed int
	failed := make(map[string]int)
	for _, out := range outcomes {
		if out.OK() {
			ok++
			if out.Confidence == models.ConfidenceUnconfirmed {
				unconfirmed++
			}
			continue
		}
		kind := string(out.Kind)
		if kind == "" {
			kind = "error"
		}
		failed[kind]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d %s", ok, len(outcomes), verb)
	if unconfirmed > 0 {
		fmt.Fprintf(&b, " (%d unconfirmed)", unconfirmed)
	}
	if n := len(outcomes) - ok; n > 0 {
		fmt.Fprintf(&b, ", %d failed: %s", n, kinds(failed))
	}
	return b.String()
}

// kinds печатает виды ошибок, частые первыми.
func kinds(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) == 1 {
		return names[0]
	}
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}
