package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Alfaiis/aeron/internal/archiver"
	"github.com/Alfaiis/aeron/internal/catalog"
	cfgpkg "github.com/Alfaiis/aeron/internal/config"
	"github.com/Alfaiis/aeron/internal/journal"
	"github.com/Alfaiis/aeron/internal/segment"
	pebblestore "github.com/Alfaiis/aeron/internal/storage/pebble"
	"github.com/Alfaiis/aeron/internal/transport"
	logpkg "github.com/Alfaiis/aeron/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "archiver",
		Short: "Stream archiver CLI",
		Long:  "Records live streams into term-aligned segment files and replays them on demand.",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file")

	loadConfig := func() (cfgpkg.Config, error) {
		cfg, err := cfgpkg.Load(configPath)
		if err != nil {
			return cfgpkg.Config{}, err
		}
		cfgpkg.FromEnv(&cfg)
		return cfg, nil
	}

	newLogger := func(cfg cfgpkg.Config) logpkg.Logger {
		level, err := logpkg.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = logpkg.InfoLevel
		}
		format := logpkg.FormatText
		if cfg.LogFormat == "json" {
			format = logpkg.FormatJSON
		}
		return logpkg.NewLogger(logpkg.WithLevel(level), logpkg.WithFormat(format))
	}

	// start
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the archiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			driver := transport.NewLoopback(0)
			arch, err := archiver.Open(cfg, driver, logger)
			if err != nil {
				return err
			}
			defer arch.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger.Info("archiver started",
				logpkg.Str("control_channel", cfg.ControlChannel),
				logpkg.I32("control_stream_id", cfg.ControlStreamID))
			arch.Run(ctx)
			logger.Info("archiver stopped")
			return nil
		},
	}
	rootCmd.AddCommand(startCmd)

	// openDB opens the catalog database read-side for offline inspection.
	openDB := func() (*pebblestore.DB, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		return pebblestore.Open(pebblestore.Options{
			DataDir: filepath.Join(cfg.ArchiveDir, archiver.CatalogDirName),
			Fsync:   pebblestore.FsyncModeNever,
		})
	}

	printJSON := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	// catalog
	catalogCmd := &cobra.Command{Use: "catalog", Short: "Inspect the recording catalog"}
	var listFrom int64
	var listCount int
	var listFilter string
	catalogListCmd := &cobra.Command{
		Use:   "list",
		Short: "List recording descriptors",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			cat, err := catalog.Open(db)
			if err != nil {
				return err
			}
			filter, err := catalog.NewFilter(listFilter)
			if err != nil {
				return fmt.Errorf("invalid --filter: %w", err)
			}
			descs, _, err := cat.List(listFrom, listCount, filter.Eval)
			if err != nil {
				return err
			}
			for i := range descs {
				if err := printJSON(&descs[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}
	catalogListCmd.Flags().Int64Var(&listFrom, "from", 0, "First recording id to list")
	catalogListCmd.Flags().IntVar(&listCount, "count", 0, "Maximum descriptors to list (0 = all)")
	catalogListCmd.Flags().StringVar(&listFilter, "filter", "", "CEL expression over descriptor fields")
	catalogCmd.AddCommand(catalogListCmd)

	var describeID int64
	catalogDescribeCmd := &cobra.Command{
		Use:   "describe",
		Short: "Show one recording descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			cat, err := catalog.Open(db)
			if err != nil {
				return err
			}
			d, err := cat.Get(describeID)
			if err != nil {
				return err
			}
			return printJSON(&d)
		},
	}
	catalogDescribeCmd.Flags().Int64Var(&describeID, "id", 0, "Recording id")
	catalogDescribeCmd.MarkFlagRequired("id")
	catalogCmd.AddCommand(catalogDescribeCmd)

	var purgeID int64
	catalogPurgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete the segment files of a closed recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			cat, err := catalog.Open(db)
			if err != nil {
				return err
			}
			d, err := cat.Get(purgeID)
			if err != nil {
				return err
			}
			if d.State != catalog.StateClosed {
				return fmt.Errorf("recording %d is %s; only closed recordings can be purged",
					purgeID, d.State)
			}
			return segment.Delete(cfg.ArchiveDir, purgeID)
		},
	}
	catalogPurgeCmd.Flags().Int64Var(&purgeID, "id", 0, "Recording id")
	catalogPurgeCmd.MarkFlagRequired("id")
	catalogCmd.AddCommand(catalogPurgeCmd)
	rootCmd.AddCommand(catalogCmd)

	// events
	eventsCmd := &cobra.Command{Use: "events", Short: "Inspect the recording event journal"}
	var evFrom uint64
	var evCount int
	eventsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List recording start/stop events",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			jnl, err := journal.Open(db)
			if err != nil {
				return err
			}
			events, _, err := jnl.Read(evFrom, evCount)
			if err != nil {
				return err
			}
			for i := range events {
				if err := printJSON(&events[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}
	eventsListCmd.Flags().Uint64Var(&evFrom, "from", 0, "First event sequence to list")
	eventsListCmd.Flags().IntVar(&evCount, "count", 0, "Maximum events to list (0 = all)")
	eventsCmd.AddCommand(eventsListCmd)
	rootCmd.AddCommand(eventsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
