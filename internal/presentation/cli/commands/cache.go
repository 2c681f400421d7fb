package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/presentation/cli/output"
)

// NewCacheCmd creates the cache management command.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local record cache",
		Long: `Manage the local copy of remote records that serves reads while the
remote store is unreachable.`,
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheRefreshCmd(), newCacheClearCmd())
	return cmd
}

type cacheStat struct {
	Collection string     `json:"collection"`
	Records    int        `json:"records"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cached record counts and last refresh times",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			ctx := appContext()
			cache := container.Cache()

			stats := make([]cacheStat, 0, len(record.Collections))
			rows := make([][]string, 0, len(record.Collections))
			now := time.Now()
			for _, coll := range record.Collections {
				recs, err := cache.GetAll(ctx, coll)
				if err != nil {
					return fmt.Errorf("failed to read cache: %w", err)
				}
				st := cacheStat{Collection: coll, Records: len(recs)}
				last := "never"
				if at, ok := container.Data().LastSync(ctx, coll); ok {
					st.LastSync = &at
					last = output.Ago(at, now) + " ago"
				}
				stats = append(stats, st)
				rows = append(rows, []string{coll, fmt.Sprintf("%d", st.Records), last})
			}

			return GetFormatter().FormatAuto(stats, output.TableData{
				Columns: []output.TableColumn{
					{Header: "COLLECTION"}, {Header: "RECORDS", Align: output.AlignRight}, {Header: "REFRESHED"},
				},
				Rows: rows,
			})
		},
	}
}

func newCacheRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [collection...]",
		Short: "Reload collections from the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			for _, a := range args {
				if !record.IsCollection(a) {
					return fmt.Errorf("unknown collection %q", a)
				}
			}
			if len(args) == 0 {
				args = record.Collections
			}

			ctx := appContext()
			formatter := GetFormatter()
			if !container.Prober().Probe(ctx) {
				return formatter.Warning("Remote unreachable; cache unchanged")
			}
			n := container.Data().Refresh(ctx, args...)
			return formatter.Success("Cached %d records", n)
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached record",
		Long: `Delete every cached record and refresh time. Pending offline actions are
kept and still sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to clear the cache without --confirm")
			}
			container, err := requireContainer()
			if err != nil {
				return err
			}
			if err := container.Data().ClearCache(appContext()); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			return GetFormatter().Success("Cache cleared")
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm clearing the cache")
	return cmd
}
