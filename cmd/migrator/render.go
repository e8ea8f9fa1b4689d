package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"blog_migrator/internal/models"
	"blog_migrator/internal/pipeline"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

// printJSON печатает v с отступами; используется при --json.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderSources(sources []models.Source) error {
	if jsonOutput {
		return printJSON(sources)
	}
	t := newTable(table.Row{"ID", "Name", "URL", "Posts", "Created"})
	for _, s := range sources {
		t.AppendRow(table.Row{s.ID, s.Name, s.URL, s.PostCount, s.CreatedAt.Format(time.DateTime)})
	}
	t.Render()
	return nil
}

func renderPosts(posts []models.Post) error {
	if jsonOutput {
		return printJSON(posts)
	}
	t := newTable(table.Row{"ID", "Title", "Status", "Scheduled", "Attempts", "Last error", "URL"})
	for _, p := range posts {
		scheduled := ""
		if p.ScheduledTime != nil {
			scheduled = p.ScheduledTime.Local().Format(time.DateTime)
		}
		lastErr := ""
		if p.LastErrorKind != "" {
			lastErr = fmt.Sprintf("%s: %s", p.LastErrorKind, truncate(p.LastError, 40))
		}
		t.AppendRow(table.Row{p.ID, truncate(p.DisplayTitle(), 50), p.Status, scheduled, p.Attempts, lastErr, p.PublishedURL})
	}
	t.Render()
	return nil
}

func renderConfigs(configs []models.PublisherConfig) error {
	if jsonOutput {
		return printJSON(configs)
	}
	t := newTable(table.Row{"ID", "Blog", "Method", "Target", "Default"})
	for _, c := range configs {
		target := c.BlogID
		if c.PublishMethod == models.MethodEmail {
			target = c.EmailAddress
		}
		def := ""
		if c.IsDefault {
			def = "*"
		}
		t.AppendRow(table.Row{c.ID, c.BlogName, c.PublishMethod, target, def})
	}
	t.Render()
	return nil
}

// renderOutcomes печатает результаты по постам и итоговую строку.
func renderOutcomes(outcomes []pipeline.Outcome) error {
	if jsonOutput {
		return printJSON(outcomes)
	}
	if len(outcomes) > 0 {
		t := newTable(table.Row{"Post", "Stage", "Status", "Error", "URL"})
		for _, o := range outcomes {
			url := o.URL
			if o.Confidence == models.ConfidenceUnconfirmed {
				url = "(sent by email, unconfirmed)"
			}
			errText := ""
			if !o.OK() {
				errText = fmt.Sprintf("%s: %s", o.Kind, truncate(o.Err.Error(), 60))
			}
			t.AppendRow(table.Row{o.PostID, o.Stage, o.Status, errText, url})
		}
		t.Render()
	}
	fmt.Println(pipeline.Summary(outcomes))
	return nil
}

func renderStats(st models.Statistics) error {
	if jsonOutput {
		return printJSON(st)
	}
	t := newTable(table.Row{"Sources", "Extracted", "Rewritten", "Scheduled", "Published", "Failed", "Pending"})
	t.AppendRow(table.Row{st.TotalSources, st.Extracted, st.Rewritten, st.Scheduled, st.Published, st.Failed, st.Pending})
	t.Render()
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
