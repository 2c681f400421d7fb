// Package commands implements the leadline CLI.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/leadline/internal/application"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/config"
	"github.com/jbctechsolutions/leadline/internal/presentation/cli/output"
)

// Version information - set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// annotationNoContainer marks commands that run without opening local storage.
const annotationNoContainer = "leadline/no-container"

// GlobalFlags holds the global CLI flags.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	Verbose    bool
}

// AppContext holds the application runtime context.
type AppContext struct {
	Config     *config.Config
	Formatter  *output.Formatter
	Flags      *GlobalFlags
	Container  *application.Container
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Context returns the application context, cancelled on shutdown.
func (a *AppContext) Context() context.Context {
	return a.ctx
}

var (
	globalFlags GlobalFlags
	appCtx      *AppContext
	appCtxMu    sync.RWMutex
)

// NewRootCmd creates the root command for the leadline CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leadline",
		Short: "Leadline - offline-first lead intake for sales agents",
		Long: `Leadline captures inbound sales calls as leads and keeps working when the
network does not.

Writes go straight to the remote store when it is reachable and are queued
locally when it is not; the queue drains in order once connectivity returns.
Incoming calls are tracked in a single call session, and calls that arrive
while a qualification form is open wait in a side queue.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			return initializeApp(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigFile, "config", "c", "", "config file path (default: $XDG_CONFIG_HOME/leadline/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Output, "output", "o", "text", "output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewConsoleCmd())
	rootCmd.AddCommand(NewSyncCmd())
	rootCmd.AddCommand(NewPendingCmd())
	rootCmd.AddCommand(NewCacheCmd())
	rootCmd.AddCommand(NewRecordsCmd())
	rootCmd.AddCommand(NewConfigCmd())

	return rootCmd
}

func skipsContainer(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[annotationNoContainer] == "true" {
			return true
		}
	}
	return false
}

// initializeApp loads configuration and, unless cmd opts out, builds the
// application container.
func initializeApp(cmd *cobra.Command) error {
	format, err := output.ParseFormat(globalFlags.Output)
	if err != nil {
		return err
	}
	formatter := output.NewFormatter(
		output.WithWriter(cmd.OutOrStdout()),
		output.WithFormat(format),
		output.WithColor(format != output.FormatJSON && output.IsColorSupported()),
	)

	cfg, err := loadConfig(globalFlags.ConfigFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var container *application.Container
	if !skipsContainer(cmd) {
		container, err = application.NewContainer(cfg, globalFlags.Verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
	}

	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)

	appCtxMu.Lock()
	prev := appCtx
	appCtx = &AppContext{
		Config:     cfg,
		Formatter:  formatter,
		Flags:      &globalFlags,
		Container:  container,
		ctx:        ctx,
		cancelFunc: cancel,
	}
	appCtxMu.Unlock()

	if prev != nil {
		prev.close()
	}
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.NewLoader("").Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// GetAppContext returns the current application context, or nil before
// initialization.
func GetAppContext() *AppContext {
	appCtxMu.RLock()
	defer appCtxMu.RUnlock()
	return appCtx
}

// GetFormatter returns the output formatter, or a default one before
// initialization.
func GetFormatter() *output.Formatter {
	if ctx := GetAppContext(); ctx != nil {
		return ctx.Formatter
	}
	return output.NewFormatter(output.WithColor(output.IsColorSupported()))
}

// GetContainer returns the application container, or nil when the running
// command does not use one.
func GetContainer() *application.Container {
	if ctx := GetAppContext(); ctx != nil {
		return ctx.Container
	}
	return nil
}

func requireContainer() (*application.Container, error) {
	c := GetContainer()
	if c == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return c, nil
}

func appContext() context.Context {
	if ctx := GetAppContext(); ctx != nil {
		return ctx.Context()
	}
	return context.Background()
}

func (a *AppContext) close() {
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	if a.Container != nil {
		if err := a.Container.Close(); err != nil && a.Flags != nil && a.Flags.Verbose {
			_ = a.Formatter.Warning("shutdown: %v", err)
		}
	}
}

// Shutdown cancels the application context and releases the container.
func Shutdown() {
	appCtxMu.Lock()
	ctx := appCtx
	appCtx = nil
	appCtxMu.Unlock()

	if ctx != nil {
		ctx.close()
	}
}

// Execute runs the root command with graceful shutdown support.
func Execute() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- NewRootCmd().Execute()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			_ = GetFormatter().Error("%s", err.Error())
			Shutdown()
			os.Exit(1)
		}
	case sig := <-sigChan:
		_ = GetFormatter().Warning("Received signal %v, shutting down...", sig)
		if ctx := GetAppContext(); ctx != nil && ctx.cancelFunc != nil {
			ctx.cancelFunc()
		}
		// Give the running command a moment to return before closing storage.
		select {
		case <-errChan:
		case <-time.After(5 * time.Second):
		}
		Shutdown()
		os.Exit(130)
	}

	Shutdown()
}
