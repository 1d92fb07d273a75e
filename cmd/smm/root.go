package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"smmswarm/internal/config"
	"smmswarm/internal/logging"
	"smmswarm/internal/server"
)

type rootOptions struct {
	configPath string
	verbose    bool
	cfg        config.Config
}

// NewRootCommand builds the smm command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "smm",
		Short: "Multi-agent SMM assistant",
		Long: fmt.Sprintf(`%s

Plans strategies, content calendars, ad campaigns, trend experiments and
analytics reviews, and composes social media images.

%s
  smm run --agent content "two weeks of posts for a coffee shop"
  smm run --agent strategy --mode text_image "launch plan for a yoga studio"
  smm image --platform instagram --use-case story "autumn menu"
  smm serve`, bold("smm "+version), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.verbose {
				cfg.Observability.Logging.Level = "debug"
			}
			logging.Configure(cfg.Observability.Logging)
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to smm.yaml")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newImageCommand(opts),
		newChatCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := buildContainer(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Cleanup(context.Background()) }()

			deps := server.Deps{
				Tasks:    c.Service,
				Pipeline: c.Pipeline,
				Chat:     c.Chat,
				Agents:   c.Agents,
				Models:   c.Models,
				Gatherer: c.Gatherer,
				Metrics:  c.Metrics,
				Tracer:   c.Tracer,
				Version:  version,
			}
			if c.Images != nil {
				deps.Images = c.Images
			}
			srv := server.New(opts.cfg.Server, deps)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				return srv.Stop(context.Background())
			}
		},
	}
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			cfg.LLM.APIKey = maskSecret(cfg.LLM.APIKey)
			cfg.Session.RedisPassword = maskSecret(cfg.Session.RedisPassword)
			cfg.Images.MinioSecret = maskSecret(cfg.Images.MinioSecret)
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter smm.yaml",
		Args:  cobra.MaximumNArgs(1),
		// The starter file must be writable before any config exists.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "smm.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteStarter(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successText("Wrote "+path))
			return nil
		},
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "smm "+version)
		},
	}
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
