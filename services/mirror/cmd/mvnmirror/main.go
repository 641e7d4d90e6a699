package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mvnmirror/pkg/telemetry"
	"mvnmirror/services/mirror"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, logger, err := telemetry.Init(ctx, "mvnmirror")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init telemetry: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry shutdown error: %v\n", err)
		}
	}()

	if err := newRootCommand(logger).ExecuteContext(ctx); err != nil {
		logger.Printf("ERROR %v", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mvnmirror",
		Short:         "Synchronize a local Maven artifact tree to a remote repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newSyncCommand(logger))
	cmd.AddCommand(newBundleCommand(logger))
	cmd.AddCommand(newStateCommand())
	return cmd
}

// syncFlags overlays the NEXUS_* environment configuration with command-line
// values. Environment values become the flag defaults, so flags always win.
type syncFlags struct {
	exclude  string
	strategy string
	cfg      mirror.Config
}

func registerSyncFlags(cmd *cobra.Command, f *syncFlags, cfg mirror.Config) {
	f.cfg = cfg
	flags := cmd.Flags()
	flags.StringVarP(&f.cfg.URL, "url", "U", cfg.URL, "Release repository base URL (https:// or s3://)")
	flags.StringVarP(&f.cfg.SnapshotURL, "snapshot-url", "S", cfg.SnapshotURL, "Snapshot repository base URL (defaults to --url)")
	flags.StringVarP(&f.cfg.Username, "username", "u", cfg.Username, "Repository username for Basic auth")
	flags.StringVarP(&f.cfg.Password, "password", "p", cfg.Password, "Repository password for Basic auth")
	flags.StringVarP(&f.cfg.Dir, "dir", "d", cfg.Dir, "Artifact tree to scan")
	flags.BoolVarP(&f.cfg.Force, "force", "f", cfg.Force, "Upload everything, bypassing idempotency checks")
	flags.StringVarP(&f.exclude, "exclude", "E", strings.Join(cfg.Exclude, ","), "Comma-separated substrings excluding matching group/artifact IDs")
	flags.Int64Var(&f.cfg.MaxSizeMiB, "max-size", cfg.MaxSizeMiB, "Maximum jar/war size in MiB")
	flags.StringVar(&f.cfg.DBPath, "db-path", cfg.DBPath, "State location: SQLite file path or postgres:// DSN")
	flags.StringVar(&f.strategy, "resolver", string(cfg.Strategy), "File discovery strategy: prefix or packaging")
	flags.IntVar(&f.cfg.Workers, "workers", cfg.Workers, "Upload concurrency")
	flags.StringVar(&f.cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "Optional address serving health, metrics and run status")
	flags.StringVar(&f.cfg.EventsURL, "events-url", cfg.EventsURL, "Optional NATS URL publishing sync events")
}

func (f *syncFlags) build() (mirror.Config, error) {
	cfg := f.cfg
	cfg.Exclude = nil
	for _, part := range strings.Split(f.exclude, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cfg.Exclude = append(cfg.Exclude, trimmed)
		}
	}
	strategy, err := mirror.ParseStrategy(f.strategy)
	if err != nil {
		return mirror.Config{}, err
	}
	cfg.Strategy = strategy
	return cfg, nil
}

func newSyncCommand(logger *log.Logger) *cobra.Command {
	var flags syncFlags

	envCfg, loadErr := mirror.Load()
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload missing or changed artifacts to the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return loadErr
			}
			cfg, err := flags.build()
			if err != nil {
				return err
			}
			_, err = mirror.Sync(cmd.Context(), cfg, logger, os.Stdout)
			return err
		},
	}

	registerSyncFlags(cmd, &flags, envCfg)
	return cmd
}

func newBundleCommand(logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Build and import signed air-gap bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBundleBuildCommand(logger))
	cmd.AddCommand(newBundleImportCommand(logger))
	return cmd
}

func newBundleBuildCommand(logger *log.Logger) *cobra.Command {
	var (
		flags  syncFlags
		output string
	)

	envCfg, loadErr := mirror.Load()
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Create a signed bundle from the artifact tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return loadErr
			}
			cfg, err := flags.build()
			if err != nil {
				return err
			}
			signer, err := mirror.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = mirror.BuildBundle(cmd.Context(), mirror.BuildConfig{
				Config: cfg,
				Output: output,
				Signer: signer,
				Logger: logger,
				Stdout: os.Stdout,
			})
			return err
		},
	}

	registerSyncFlags(cmd, &flags, envCfg)
	cmd.Flags().StringVar(&output, "output", "", "Destination bundle file (tar.zst)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBundleImportCommand(logger *log.Logger) *cobra.Command {
	var (
		flags      syncFlags
		bundleFile string
	)

	envCfg, loadErr := mirror.Load()
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Verify a signed bundle and sync its contents to the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return loadErr
			}
			cfg, err := flags.build()
			if err != nil {
				return err
			}
			signer, err := mirror.NewSignerFromEnv()
			if err != nil {
				return err
			}

			treeDir, _, err := mirror.ImportBundle(cmd.Context(), bundleFile, signer, os.Stdout)
			if err != nil {
				return err
			}
			defer os.RemoveAll(treeDir)

			cfg.Dir = treeDir
			_, err = mirror.Sync(cmd.Context(), cfg, logger, os.Stdout)
			return err
		},
	}

	registerSyncFlags(cmd, &flags, envCfg)
	cmd.Flags().StringVar(&bundleFile, "file", "", "Path to the bundle tar.zst")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the idempotency state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	envCfg, loadErr := mirror.Load()
	var dbPath string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print the number of recorded uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return loadErr
			}
			store, err := mirror.OpenStore(cmd.Context(), dbPath)
			if err != nil {
				return fmt.Errorf("open state %s: %w", dbPath, err)
			}
			defer store.Close()

			count, err := store.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("count uploads: %w", err)
			}
			fmt.Fprintf(os.Stdout, "%s: %d recorded uploads\n", dbPath, count)
			return nil
		},
	}

	stats.Flags().StringVar(&dbPath, "db-path", envCfg.DBPath, "State location: SQLite file path or postgres:// DSN")

	cmd.AddCommand(stats)
	return cmd
}
