package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/leadline/internal/presentation/cli/output"
)

// NewPendingCmd creates the pending queue command.
func NewPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect the offline action queue",
	}
	cmd.AddCommand(newPendingListCmd(), newPendingCountCmd(), newPendingClearCmd())
	return cmd
}

type pendingRow struct {
	ID        string    `json:"id"`
	Table     string    `json:"table"`
	Operation string    `json:"operation"`
	Target    string    `json:"target,omitempty"`
	Enqueued  time.Time `json:"enqueued_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

func newPendingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued actions in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			formatter := GetFormatter()

			actions, err := container.Queue().List(appContext())
			if err != nil {
				return fmt.Errorf("failed to list pending actions: %w", err)
			}

			rows := make([]pendingRow, len(actions))
			table := make([][]string, len(actions))
			now := time.Now()
			for i, a := range actions {
				rows[i] = pendingRow{
					ID:        a.ID,
					Table:     a.Table,
					Operation: string(a.Operation),
					Target:    a.TargetID(),
					Enqueued:  a.EnqueuedAt,
					Attempts:  a.Attempts,
					LastError: a.LastError,
				}
				table[i] = []string{
					a.ID, a.Table, string(a.Operation), a.TargetID(),
					output.Ago(a.EnqueuedAt, now), fmt.Sprintf("%d", a.Attempts),
					output.Truncate(a.LastError, 40),
				}
			}

			if !formatter.IsJSON() && len(rows) == 0 {
				return formatter.Info("No pending actions")
			}
			return formatter.FormatAuto(rows, output.TableData{
				Columns: []output.TableColumn{
					{Header: "ID"}, {Header: "TABLE"}, {Header: "OP"}, {Header: "TARGET"},
					{Header: "AGE", Align: output.AlignRight}, {Header: "TRIES", Align: output.AlignRight},
					{Header: "LAST ERROR"},
				},
				Rows: table,
			})
		},
	}
}

func newPendingCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of queued actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			formatter := GetFormatter()
			n := container.Data().PendingSyncCount(appContext())
			if formatter.IsJSON() {
				return formatter.JSON(map[string]int{"pending": n})
			}
			return formatter.Println("%d", n)
		},
	}
}

func newPendingClearCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued action",
		Long:  `Discard every queued action without replaying it. Unsynced writes are lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to discard unsynced writes without --confirm")
			}
			container, err := requireContainer()
			if err != nil {
				return err
			}
			ctx := appContext()
			n := container.Data().PendingSyncCount(ctx)
			if err := container.Queue().Clear(ctx); err != nil {
				return fmt.Errorf("failed to clear pending actions: %w", err)
			}
			return GetFormatter().Success("Discarded %d pending actions", n)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm discarding unsynced writes")
	return cmd
}
