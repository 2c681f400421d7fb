package commands

import (
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/leadline/internal/application/syncer"
	"github.com/jbctechsolutions/leadline/internal/presentation/cli/output"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay pending offline actions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			ctx := appContext()

			container.Prober().Probe(ctx)
			res, err := container.Syncer().Drain(ctx, syncer.TriggerManual)
			if err != nil {
				return err
			}
			return printDrain(GetFormatter(), res)
		},
	}
}

func printDrain(out *output.Formatter, res syncer.DrainResult) error {
	if out.IsJSON() {
		return out.JSON(res)
	}
	switch {
	case res.Skipped:
		return out.Warning("Sync skipped (remote unreachable or drain in progress); %d actions still pending", res.Remaining)
	case res.Attempted == 0:
		return out.Info("Nothing to sync")
	case res.Failed > 0 || res.Deferred > 0:
		return out.Warning("Synced %d, failed %d, deferred %d; %d remaining",
			res.Synced, res.Failed, res.Deferred, res.Remaining)
	}
	return out.Success("Synced %d offline actions", res.Synced)
}
