package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/presentation/cli/output"
)

var defaultColumns = map[string][]string{
	record.Leads:     {"id", "phone", "name", "stage", "assigned_to", "created_at"},
	record.Callbacks: {"id", "phone", "status", "interest", "missed_at"},
	record.Users:     {"id", "name", "role"},
}

// NewRecordsCmd creates the records command.
func NewRecordsCmd() *cobra.Command {
	var (
		where   []string
		columns []string
	)

	cmd := &cobra.Command{
		Use:       "records <collection>",
		Short:     "List records, from the remote when reachable or the local cache",
		Args:      cobra.ExactArgs(1),
		ValidArgs: record.Collections,
		RunE: func(cmd *cobra.Command, args []string) error {
			coll := args[0]
			if !record.IsCollection(coll) {
				return fmt.Errorf("unknown collection %q (one of: %s)", coll, strings.Join(record.Collections, ", "))
			}
			filter, err := parseFilter(where)
			if err != nil {
				return err
			}
			container, err := requireContainer()
			if err != nil {
				return err
			}
			ctx := appContext()
			formatter := GetFormatter()

			container.Prober().Probe(ctx)
			recs, fromCache := container.Data().GetCachedOrLive(ctx, coll, filter)
			if recs == nil {
				recs = []record.Record{}
			}
			record.SortNewestFirst(recs)

			if formatter.IsJSON() {
				return formatter.JSON(map[string]any{"records": recs, "from_cache": fromCache})
			}
			if fromCache {
				_ = formatter.Warning("Remote unreachable; showing cached records")
			}
			if len(recs) == 0 {
				return formatter.Info("No %s", coll)
			}
			if len(columns) == 0 {
				columns = defaultColumns[coll]
			}
			if len(columns) == 0 {
				columns = []string{"id", "phone", "created_at"}
			}
			return formatter.Table(output.RecordTable(recs, columns...))
		},
	}

	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "equality filter field=value (repeatable)")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "fields to show")
	return cmd
}

// parseFilter turns field=value pairs into a filter. "true" and "false"
// match booleans.
func parseFilter(pairs []string) (record.Filter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	f := make(record.Filter, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q, want field=value", p)
		}
		switch v {
		case "true":
			f[k] = true
		case "false":
			f[k] = false
		default:
			f[k] = v
		}
	}
	return f, nil
}
