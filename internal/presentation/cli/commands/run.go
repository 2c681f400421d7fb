package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the background services until interrupted",
		Long: `Run connectivity probing, the offline queue drain, the change feed and
call event tracking in the foreground. Session changes are printed as they
happen. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			ctx := appContext()
			formatter := GetFormatter()

			if err := container.Start(ctx); err != nil {
				return fmt.Errorf("failed to start services: %w", err)
			}

			remote := container.Config().Remote.URL
			if container.Demo() != nil {
				remote = "demo (in-memory)"
			}
			_ = formatter.Header("Leadline")
			_ = formatter.Item("Remote", remote)
			_ = formatter.Item("Status", onlineLabel(container.Monitor().IsOnline()))
			_ = formatter.Item("Pending", fmt.Sprintf("%d", container.Data().PendingSyncCount(ctx)))
			_ = formatter.Item("Database", container.DatabasePath())
			if tc := container.Config().Telephony; tc.Enabled {
				_ = formatter.Item("Call events", tc.SpoolPath)
			}

			snaps, unsubscribe := container.Sessions().Subscribe()
			defer unsubscribe()
			NewConsole(container, formatter).Watch(ctx, snaps)
			return nil
		},
	}
}
