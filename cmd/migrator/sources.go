package main

import (
	"context"
	"fmt"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/models"

	"github.com/spf13/cobra"
)

var (
	sourceName string
	extractMax int
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage source blogs",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Register a source blog",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, a *app, args []string) error {
		src, err := models.NewSource(args[0], sourceName)
		if err != nil {
			return err
		}
		if err := a.store.CreateSource(ctx, src); err != nil {
			return err
		}
		logger.Service("cli").WithField("source_id", src.ID).Info("Source added")
		return renderSources([]models.Source{*src})
	}),
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List source blogs",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, _ []string) error {
		sources, err := a.store.ListSources(ctx)
		if err != nil {
			return err
		}
		return renderSources(sources)
	}),
}

var sourceDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a source blog and all its posts",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, a *app, args []string) error {
		if err := a.store.DeleteSource(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("source %s deleted\n", args[0])
		return nil
	}),
}

var extractCmd = &cobra.Command{
	Use:   "extract <source-id>",
	Short: "Extract new posts from a source blog",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, a *app, args []string) error {
		limit := extractMax
		if limit <= 0 {
			limit = a.cfg.MaxPosts
		}
		report, err := a.pipeline.ExtractSource(ctx, args[0], limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}
		fmt.Printf("fetched %d, created %d, duplicates %d, skipped %d\n",
			report.Fetched, report.Created, report.Duplicates, report.Skipped)
		if report.Reason != "" {
			fmt.Printf("source returned nothing: %s\n", report.Reason)
		}
		return nil
	}),
}

func init() {
	sourceAddCmd.Flags().StringVar(&sourceName, "name", "", "Display name (default: host)")
	sourceCmd.AddCommand(sourceAddCmd, sourceListCmd, sourceDeleteCmd)

	extractCmd.Flags().IntVar(&extractMax, "max", 0, "Maximum articles to fetch (default: max_posts from config)")

	rootCmd.AddCommand(sourceCmd, extractCmd)
}
