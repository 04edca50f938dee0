package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/dossierpackager/internal/services"
)

// commandContext carries flag overrides shared by every subcommand.
type commandContext struct {
	backend     string
	filePath    string
	sqlitePath  string
	concurrency int
	logLevel    string
}

// config reads the environment and applies the flags that were set.
func (c *commandContext) config(cmd *cobra.Command) (services.PackagerConfig, error) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		if err := os.Setenv("STORE_BACKEND", c.backend); err != nil {
			return services.PackagerConfig{}, err
		}
	}
	if flags.Changed("file-path") {
		if err := os.Setenv("FILE_PATH", c.filePath); err != nil {
			return services.PackagerConfig{}, err
		}
	}
	if flags.Changed("sqlite-path") {
		if err := os.Setenv("SQLITE_PATH", c.sqlitePath); err != nil {
			return services.PackagerConfig{}, err
		}
	}
	config, err := services.LoadPackagerConfig()
	if err != nil {
		return services.PackagerConfig{}, err
	}
	if flags.Changed("concurrency") {
		config.Concurrency = c.concurrency
	}
	return config, config.Validate()
}

func (c *commandContext) openPackager(cmd *cobra.Command) (*services.Packager, services.PackagerConfig, error) {
	config, err := c.config(cmd)
	if err != nil {
		return nil, services.PackagerConfig{}, err
	}
	p, err := services.NewPackagerFromConfig(cmd.Context(), config)
	if err != nil {
		return nil, services.PackagerConfig{}, err
	}
	return p, config, nil
}

func (c *commandContext) setupLogging(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "packager",
		Short:         "Package sent financial dossiers into delivery archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.setupLogging(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.backend, "backend", services.BackendFirestore, "Store backend (firestore or sqlite), overrides STORE_BACKEND")
	flags.StringVar(&ctx.filePath, "file-path", "/data/files/", "Storage root for source files and archives, overrides FILE_PATH")
	flags.StringVar(&ctx.sqlitePath, "sqlite-path", "", "SQLite database path, overrides SQLITE_PATH")
	flags.IntVar(&ctx.concurrency, "concurrency", 0, "Maximum dossiers packaged at once, 0 for no limit")
	flags.StringVar(&ctx.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newSweepCommand(ctx))

	return rootCmd
}
