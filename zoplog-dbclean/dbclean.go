/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// zoplog-dbclean relieves disk pressure on the database volume: once usage
// crosses the trigger threshold it deletes packet_logs and blocked_events a
// calendar day at a time, starting with yesterday and moving one day further
// back each round, re-probing the disk after every day
// until the free-space target is met.  It is normally run from a timer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/logdb"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/zlcfg"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/zlutil"

	"github.com/shirou/gopsutil/disk"
	"go.uber.org/zap"
)

const pname = "zoplog-dbclean"

const (
	// Cleanup only runs on its own once usage reaches this level.
	triggerUsedPercent = 95.0

	// The purge loop runs until this much of the disk is free again.
	targetFreePercent = 8.0

	// Never delete more than a year in one invocation.
	maxDaysDeleted = 365
)

var (
	dryRun = flag.Bool("dry-run", false,
		"show what would be done without making changes")
	forceDiskCleanup = flag.Bool("force-disk-cleanup", false,
		"run the disk cleanup regardless of current usage")
	cleanupOrphaned = flag.Bool("cleanup-orphaned", false,
		"delete orphaned rows in the lookup tables")
	optimize = flag.Bool("optimize", false,
		"optimize tables after cleanup")
	dataDir = flag.String("datadir", "/var/lib/mysql",
		"database data directory to probe for disk usage")
	dbConfPath = flag.String("dbconf", zlcfg.DatabasePath,
		"path to the database credentials file")

	slog *zap.SugaredLogger
)

// diskProbe reports (used %, free GB) for the database volume.
type diskProbe func() (float64, float64, error)

// cleanupStore is the slice of the data store the cleanup needs.
type cleanupStore interface {
	CountDay(context.Context, time.Time) (int64, int64, error)
	DeleteDay(context.Context, time.Time) (int64, error)
	CountOrphanIPs(context.Context) (int64, error)
	DeleteOrphanIPs(context.Context) (int64, error)
	TableSizes(context.Context) ([]logdb.TableSize, error)
	OptimizeTables(context.Context) ([]string, error)
}

type purgeStats struct {
	initialUsage float64
	finalUsage   float64
	availableGB  float64
	totalDeleted int64
	daysDeleted  int
}

func probeDataDir() (float64, float64, error) {
	usage, err := disk.Usage(*dataDir)
	if err != nil {
		return 0, 0, err
	}
	return usage.UsedPercent, float64(usage.Free) / (1 << 30), nil
}

// purgeByDiskSpace deletes log days, starting with the day before start and
// moving backwards, until the free-space target is met.  Days with no rows advance the cursor without a delete.
// In dry-run mode nothing is deleted, so the loop walks the full year of
// candidate days.
func purgeByDiskSpace(ctx context.Context, store cleanupStore, probe diskProbe,
	start time.Time, dry bool) (*purgeStats, error) {

	used, free, err := probe()
	if err != nil {
		return nil, err
	}

	stats := &purgeStats{initialUsage: used, finalUsage: used, availableGB: free}
	target := 100 - targetFreePercent

	if used < target {
		fmt.Printf("Disk usage %.1f%% is below the %.1f%% target, no cleanup needed\n",
			used, target)
		return stats, nil
	}

	for used >= target && stats.daysDeleted < maxDaysDeleted {
		day := start.AddDate(0, 0, -(stats.daysDeleted + 1))

		packets, blocked, err := store.CountDay(ctx, day)
		if err != nil {
			return stats, err
		}
		if packets+blocked == 0 {
			stats.daysDeleted++
			fmt.Printf("%s: no records to delete\n", day.Format("2006-01-02"))
			continue
		}

		if dry {
			fmt.Printf("%s: would delete %d records (%d packets, %d blocked)\n",
				day.Format("2006-01-02"), packets+blocked, packets, blocked)
			stats.totalDeleted += packets + blocked
			stats.daysDeleted++
			continue
		}

		slog.Infof("deleting %d records from %s (%d packets, %d blocked)",
			packets+blocked, day.Format("2006-01-02"), packets, blocked)
		deleted, err := store.DeleteDay(ctx, day)
		if err != nil {
			return stats, err
		}
		stats.totalDeleted += deleted
		stats.daysDeleted++

		prev := used
		if used, free, err = probe(); err != nil {
			return stats, err
		}
		fmt.Printf("Disk usage: %.1f%% (%+.1f%%), available: %.1fGB\n",
			used, used-prev, free)
	}

	if stats.daysDeleted >= maxDaysDeleted {
		slog.Warnf("reached %d-day limit, stopping cleanup", maxDaysDeleted)
	}

	stats.finalUsage = used
	stats.availableGB = free
	return stats, nil
}

func printTableSizes(ctx context.Context, store cleanupStore, label string) {
	sizes, err := store.TableSizes(ctx)
	if err != nil {
		slog.Warnf("sizing tables: %v", err)
		return
	}
	fmt.Printf("%s table sizes (MB):\n", label)
	for _, s := range sizes {
		fmt.Printf("  %s: %.2f\n", s.Table, s.SizeMB)
	}
}

func run(ctx context.Context, store cleanupStore, probe diskProbe) error {
	mode := "LIVE RUN"
	if *dryRun {
		mode = "DRY RUN"
	}
	fmt.Printf("ZopLog database cleanup - %s\n", mode)

	used, free, err := probe()
	if err != nil {
		return err
	}
	fmt.Printf("Initial disk usage: %.1f%%, available: %.1fGB\n", used, free)

	printTableSizes(ctx, store, "Initial")

	if *forceDiskCleanup || used >= triggerUsedPercent {
		fmt.Printf("\n--- Disk space cleanup (target: %.1f%% free) ---\n",
			targetFreePercent)
		stats, err := purgeByDiskSpace(ctx, store, probe, time.Now(), *dryRun)
		if err != nil {
			return err
		}
		if stats.totalDeleted > 0 {
			fmt.Printf("Deleted %d records over %d days; disk usage %.1f%% -> %.1f%%\n",
				stats.totalDeleted, stats.daysDeleted,
				stats.initialUsage, stats.finalUsage)
			slog.Infof("cleanup deleted %d records, usage %.1f%% -> %.1f%%",
				stats.totalDeleted, stats.initialUsage, stats.finalUsage)
		}
	} else {
		fmt.Printf("Disk usage %.1f%% is below the %.1f%% trigger, skipping cleanup\n",
			used, triggerUsedPercent)
	}

	if *cleanupOrphaned {
		fmt.Printf("\n--- Orphaned records cleanup ---\n")
		var orphans int64
		if *dryRun {
			orphans, err = store.CountOrphanIPs(ctx)
		} else {
			orphans, err = store.DeleteOrphanIPs(ctx)
		}
		if err != nil {
			return err
		}
		if orphans > 0 {
			fmt.Printf("Orphaned IP addresses: %d\n", orphans)
			if !*dryRun {
				slog.Infof("removed %d orphaned IP addresses", orphans)
			}
		} else {
			fmt.Printf("No orphaned records found\n")
		}
	}

	if *optimize && !*dryRun {
		fmt.Printf("\n--- Table optimization ---\n")
		tables, err := store.OptimizeTables(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Optimized %d tables\n", len(tables))
	}

	printTableSizes(ctx, store, "Final")

	if used, free, err = probe(); err == nil {
		fmt.Printf("Final disk usage: %.1f%%, available: %.1fGB\n", used, free)
	}

	return nil
}

func main() {
	flag.Parse()
	slog = zlutil.NewLogger(pname)

	dbc := zlcfg.LoadDBConfig(*dbConfPath, slog)
	store, err := logdb.Connect(dbc.DSN())
	if err != nil {
		slog.Errorf("cannot connect to %s/%s: %v", dbc.Host, dbc.Name, err)
		os.Exit(1)
	}
	defer store.Close()

	if err := run(context.Background(), store, probeDataDir); err != nil {
		slog.Errorf("cleanup failed: %v", err)
		os.Exit(1)
	}
}
