package main

import (
	"context"
	"fmt"
	"os"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/models"
	"blog_migrator/internal/publisher"

	"github.com/spf13/cobra"
)

// newConfig заполняется флагами config add. Секреты также читаются из
// BLOGGER_API_KEY и SMTP_PASSWORD, чтобы не светить их в истории shell.
var newConfig models.PublisherConfig

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage destination publisher configs",
}

var configAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a publisher config (api or email)",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, _ []string) error {
		cfg := newConfig
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("BLOGGER_API_KEY")
		}
		if cfg.SMTPPassword == "" {
			cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
		}

		warnings, err := publisher.ValidateConfig(&cfg)
		if err != nil {
			return err
		}
		if err := a.store.CreateConfig(ctx, &cfg); err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		logger.Service("cli").WithFields(cfg.LogFields()).Info("Publisher config created")
		return renderConfigs([]models.PublisherConfig{cfg})
	}),
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List publisher configs",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, _ []string) error {
		configs, err := a.store.ListConfigs(ctx)
		if err != nil {
			return err
		}
		return renderConfigs(configs)
	}),
}

var configDefaultCmd = &cobra.Command{
	Use:   "default <id>",
	Short: "Make a publisher config the default",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, a *app, args []string) error {
		if err := a.store.SetDefaultConfig(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("config %s is now the default\n", args[0])
		return nil
	}),
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a publisher config",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, a *app, args []string) error {
		if err := a.store.DeleteConfig(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("config %s deleted\n", args[0])
		return nil
	}),
}

func init() {
	f := configAddCmd.Flags()
	f.StringVar(&newConfig.BlogName, "blog-name", "", "Destination blog name")
	f.StringVar((*string)(&newConfig.PublishMethod), "method", string(models.MethodAPI), "Publish method: api or email")
	f.StringVar(&newConfig.BlogID, "blog-id", "", "Blogger blog id (api)")
	f.StringVar(&newConfig.APIKey, "api-key", "", "Blogger API key (api; or BLOGGER_API_KEY)")
	f.StringVar(&newConfig.EmailAddress, "email", "", "Blogger post-by-email address (email)")
	f.StringVar(&newConfig.SMTPServer, "smtp-server", models.DefaultSMTPServer, "SMTP server (email)")
	f.IntVar(&newConfig.SMTPPort, "smtp-port", models.DefaultSMTPPort, "SMTP port (email)")
	f.StringVar(&newConfig.SMTPUsername, "smtp-user", "", "SMTP username (email)")
	f.StringVar(&newConfig.SMTPPassword, "smtp-password", "", "SMTP password (email; or SMTP_PASSWORD)")
	f.BoolVar(&newConfig.IsDefault, "default", false, "Make this the default config")

	configCmd.AddCommand(configAddCmd, configListCmd, configDefaultCmd, configDeleteCmd)
	rootCmd.AddCommand(configCmd)
}
