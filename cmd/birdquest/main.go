package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"birdquest/app"
	"birdquest/config"
	"birdquest/db"
	"birdquest/logging"
	"birdquest/server"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var root string

	rootCmd := &cobra.Command{
		Use:          "birdquest",
		Short:        "Run the BirdQuest habit tracker",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return normalizeWorkdir(root)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), v)
		},
	}
	rootCmd.PersistentFlags().StringVar(&root, "root", "", "application root; defaults to the executable's directory")
	rootCmd.PersistentFlags().String("instance", config.DefaultInstancePath, "directory holding the database file")
	rootCmd.PersistentFlags().String("database-uri", config.DefaultDatabaseURI, "database connection string")
	rootCmd.PersistentFlags().Bool("backup", false, "back up an existing database file before bootstrapping")
	rootCmd.PersistentFlags().Int("max-backups", config.DefaultMaxBackups, "maximum number of backups to retain")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this rotating file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap the database and start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), v)
		},
	}
	serveCmd.Flags().String("host", config.DefaultHost, "address to bind")
	serveCmd.Flags().Int("port", config.DefaultPort, "port to listen on")
	serveCmd.Flags().Bool("debug", true, "debug mode")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	initCmd := &cobra.Command{
		Use:   "initdb",
		Short: "Create or verify the database schema without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitDB(cmd.Context(), v)
		},
	}

	rootCmd.AddCommand(serveCmd, initCmd)

	bindFlags(v, rootCmd.PersistentFlags(), map[string]string{
		"instance":     config.InstancePathEnvVar,
		"database-uri": config.DatabaseURIEnvVar,
		"backup":       config.BackupOnStartEnvVar,
		"max-backups":  config.MaxBackupsEnvVar,
		"log-file":     config.LogFileEnvVar,
	})
	bindFlags(v, serveCmd.Flags(), map[string]string{
		"host":  config.HostEnvVar,
		"port":  config.PortEnvVar,
		"debug": config.DebugEnvVar,
	})
	config.SetDefaults(v)
	return rootCmd
}

// normalizeWorkdir changes into root so relative paths resolve against the
// application directory rather than wherever the binary was started from.
func normalizeWorkdir(root string) error {
	if root == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		root = filepath.Dir(exe)
	}
	if err := os.Chdir(root); err != nil {
		return fmt.Errorf("change to application root %s: %w", root, err)
	}
	return nil
}

// setup loads config, builds the logger and app context and runs the
// bootstrapper. The returned app must be closed by the caller.
func setup(ctx context.Context, v *viper.Viper) (*app.App, db.Outcome, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, db.Unchecked, err
	}
	log := logging.New(logging.Options{Debug: cfg.Debug, File: cfg.LogFile})

	a, err := app.New(cfg, log)
	if err != nil {
		return nil, db.Unchecked, err
	}

	if cfg.BackupOnStart {
		dbPath, err := a.DatabasePath()
		if err != nil {
			return a, db.Unchecked, err
		}
		if _, err := db.Backup(log, dbPath, cfg.MaxBackups, time.Now()); err != nil {
			return a, db.Unchecked, err
		}
	}

	outcome, err := db.NewBootstrapper(a, log).EnsureReady(ctx)
	if err != nil {
		return a, outcome, fmt.Errorf("bootstrap failed: %w", err)
	}
	return a, outcome, nil
}

func runInitDB(ctx context.Context, v *viper.Viper) error {
	a, outcome, err := setup(ctx, v)
	if a != nil {
		defer closeApp(a)
	}
	if err != nil {
		return err
	}
	a.Log.Infof("initdb: database %s", outcome)
	return nil
}

func runServe(ctx context.Context, out io.Writer, v *viper.Viper) error {
	fmt.Fprintln(out, "Initializing BirdQuest...")
	a, outcome, err := setup(ctx, v)
	if a != nil {
		defer closeApp(a)
	}
	if err != nil {
		return err
	}

	store, err := a.Store()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "\nStarting BirdQuest on http://%s\n", a.Config.Addr())
	fmt.Fprintln(out, "Press CTRL+C to stop the server")

	l := &server.Listener{Store: store, Outcome: outcome, Debug: a.Config.Debug, Log: a.Log}
	if err := l.Run(ctx, a.Config.Addr()); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	fmt.Fprintln(out, "\nBirdQuest stopped. See you next time!")
	return nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Log.Warnf("closing database: %v", err)
	}
	_ = a.Log.Sync()
}

// bindFlags maps command-line flags onto the environment-style config keys
// so a flag, when given, wins over the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		cobra.CheckErr(v.BindPFlag(key, flags.Lookup(flag)))
	}
}
