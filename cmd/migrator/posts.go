package main

import (
	"context"
	"fmt"
	"time"

	"blog_migrator/internal/models"
	"blog_migrator/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	expectStatus   string
	postsStatus    string
	postsSource    string
	postsLimit     int
	scheduleAt     string
	schedulePerDay int
	publishConfig  string
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List posts",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, _ []string) error {
		filter := models.PostFilter{SourceID: postsSource, Limit: postsLimit}
		if postsStatus != "" {
			st, err := models.ParseStatus(postsStatus)
			if err != nil {
				return err
			}
			filter.Status = st
		}
		posts, err := a.store.ListPosts(ctx, filter)
		if err != nil {
			return err
		}
		return renderPosts(posts)
	}),
}

var postsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently changed posts",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, _ []string) error {
		posts, err := a.store.RecentPosts(ctx, postsLimit)
		if err != nil {
			return err
		}
		return renderPosts(posts)
	}),
}

var postsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete posts",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(false, func(ctx context.Context, a *app, args []string) error {
		for _, id := range args {
			if err := a.store.DeletePost(ctx, id); err != nil {
				return err
			}
			fmt.Printf("post %s deleted\n", id)
		}
		return nil
	}),
}

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every source and post (publisher configs are kept)",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, _ []string) error {
		if !resetYes {
			return fmt.Errorf("refusing to delete all data without --yes")
		}
		if err := a.store.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Println("all sources and posts deleted")
		return nil
	}),
}

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [post-id...]",
	Short: "Rewrite extracted posts (all extracted posts when no ids are given)",
	RunE: withApp(true, func(ctx context.Context, a *app, args []string) error {
		reqs, err := requests(ctx, a, args, models.StatusExtracted)
		if err != nil {
			return err
		}
		return renderOutcomes(a.pipeline.Rewrite(ctx, reqs))
	}),
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [post-id...]",
	Short: "Schedule rewritten posts at a time (default: next free slot), or spread them with --per-day",
	RunE: withApp(false, func(ctx context.Context, a *app, args []string) error {
		var (
			at  time.Time
			err error
		)
		if scheduleAt == "" {
			at, err = a.pipeline.NextSlot(ctx)
		} else {
			at, err = parseTime(scheduleAt)
		}
		if err != nil {
			return err
		}
		reqs, err := requests(ctx, a, args, models.StatusRewritten)
		if err != nil {
			return err
		}
		var outcomes []pipeline.Outcome
		if schedulePerDay > 0 {
			outcomes, err = a.pipeline.SchedulePlan(ctx, reqs, at, schedulePerDay)
		} else {
			outcomes, err = a.pipeline.Schedule(ctx, reqs, at)
		}
		if err != nil {
			return err
		}
		return renderOutcomes(outcomes)
	}),
}

var publishCmd = &cobra.Command{
	Use:   "publish [post-id...]",
	Short: "Publish rewritten posts now (all rewritten posts when no ids are given)",
	RunE: withApp(false, func(ctx context.Context, a *app, args []string) error {
		reqs, err := requests(ctx, a, args, models.StatusRewritten)
		if err != nil {
			return err
		}
		outcomes, err := a.pipeline.Publish(ctx, reqs, publishConfig)
		if err != nil {
			return err
		}
		return renderOutcomes(outcomes)
	}),
}

var publishDueCmd = &cobra.Command{
	Use:   "publish-due",
	Short: "Publish scheduled posts whose time has come",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, _ []string) error {
		outcomes, err := a.pipeline.PublishDue(ctx, time.Now(), publishConfig)
		if err != nil {
			return err
		}
		return renderOutcomes(outcomes)
	}),
}

var retryCmd = &cobra.Command{
	Use:   "retry [post-id...]",
	Short: "Retry failed posts at the stage they failed (all failed posts when no ids are given)",
	RunE: withApp(true, func(ctx context.Context, a *app, args []string) error {
		reqs, err := requests(ctx, a, args, models.StatusFailed)
		if err != nil {
			return err
		}
		outcomes, err := a.pipeline.Retry(ctx, reqs, publishConfig)
		if err != nil {
			return err
		}
		return renderOutcomes(outcomes)
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show post counts by status",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, _ []string) error {
		st, err := a.store.Statistics(ctx)
		if err != nil {
			return err
		}
		return renderStats(st)
	}),
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, _ []string) error {
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("schema is up to date")
		return nil
	}),
}

func init() {
	postsCmd.Flags().StringVar(&postsStatus, "status", "", "Filter by status")
	postsCmd.Flags().StringVar(&postsSource, "source", "", "Filter by source id")
	postsCmd.PersistentFlags().IntVar(&postsLimit, "limit", 50, "Maximum posts to list")
	postsCmd.AddCommand(postsRecentCmd, postsDeleteCmd)
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm deletion")

	for _, cmd := range []*cobra.Command{rewriteCmd, scheduleCmd, publishCmd, retryCmd} {
		cmd.Flags().StringVar(&expectStatus, "expect", "", "Only act if each post is still in this status")
	}

	scheduleCmd.Flags().StringVar(&scheduleAt, "at", "", "Publish time (RFC 3339 or \"2006-01-02 15:04\" local; default: next free slot)")
	scheduleCmd.Flags().IntVar(&schedulePerDay, "per-day", 0, "Spread posts starting at --at, this many per day")

	for _, cmd := range []*cobra.Command{publishCmd, publishDueCmd, retryCmd} {
		cmd.Flags().StringVar(&publishConfig, "publish-config", "", "Publisher config id (default: the default config)")
	}

	rootCmd.AddCommand(postsCmd, rewriteCmd, scheduleCmd, publishCmd, publishDueCmd, retryCmd, statsCmd, migrateCmd, resetCmd)
}

// requests собирает пачку из аргументов; без аргументов берутся все посты в статусе fallback.
func requests(ctx context.Context, a *app, ids []string, fallback models.Status) ([]pipeline.Request, error) {
	var observed models.Status
	if expectStatus != "" {
		st, err := models.ParseStatus(expectStatus)
		if err != nil {
			return nil, err
		}
		observed = st
	}
	if len(ids) == 0 {
		return a.pipeline.Pending(ctx, fallback)
	}
	reqs := make([]pipeline.Request, 0, len(ids))
	for _, id := range ids {
		reqs = append(reqs, pipeline.Request{PostID: id, Observed: observed})
	}
	return reqs, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, models.Errorf(models.KindValidation, "parse time", "bad time %q: use RFC 3339 or \"2006-01-02 15:04\"", s)
	}
	return t, nil
}
