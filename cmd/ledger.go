package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bilgisen/chanpost/internal/config"
	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/storage"
)

var (
	recentLimit int
	recentJSON  bool
	statsWindow time.Duration
	purgeDays   int
)

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently published posts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(ledger storage.Ledger) error {
			records, err := ledger.ListRecent(cmd.Context(), recentLimit)
			if err != nil {
				return err
			}
			if recentJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			return printRecords(cmd, records)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count posts published within a window, by source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(ledger storage.Ledger) error {
			summary, err := ledger.RecentCounts(cmd.Context(), statsWindow)
			if err != nil {
				return err
			}
			sources := make([]string, 0, len(summary.BySource))
			for src := range summary.BySource {
				sources = append(sources, src.String())
			}
			sort.Strings(sources)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Published in the last %s: %d\n", summary.Window, summary.Total)
			for _, src := range sources {
				fmt.Fprintf(out, "  %-8s %d\n", src, summary.BySource[models.SourceTag(src)])
			}
			return nil
		})
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete ledger records older than --days",
	Long: `Delete ledger records older than --days. Purged items become eligible for
publishing again if a source offers them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if purgeDays <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		return withLedger(func(ledger storage.Ledger) error {
			removed, err := ledger.PurgeOlderThan(cmd.Context(), time.Duration(purgeDays)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s)\n", removed)
			return nil
		})
	},
}

func init() {
	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", storage.DefaultListLimit, "Number of posts to show")
	recentCmd.Flags().BoolVar(&recentJSON, "json", false, "Output as JSON")
	statsCmd.Flags().DurationVar(&statsWindow, "window", 24*time.Hour, "Counting window")
	purgeCmd.Flags().IntVar(&purgeDays, "days", 0, "Age in days of records to delete")

	rootCmd.AddCommand(recentCmd, statsCmd, purgeCmd)
}

func withLedger(fn func(storage.Ledger) error) (err error) {
	cfg, err := config.LoadMaintenance()
	if err != nil {
		return err
	}
	if _, err := initLogger(cfg); err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ledger.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ledger)
}

func printRecords(cmd *cobra.Command, records []models.PublishRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No posts published yet")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PUBLISHED\tSOURCE\tTITLE\tURL")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.PublishedAt.Local().Format("2006-01-02 15:04"), r.Source, r.Title, r.Identifier)
	}
	return w.Flush()
}
