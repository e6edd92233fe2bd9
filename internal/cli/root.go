// Package cli provides the command-line interface for the auto-sniping core.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"autosniper/internal/alerts"
	"autosniper/internal/config"
	"autosniper/internal/core"
	"autosniper/internal/detector"
	"autosniper/internal/exchange"
	"autosniper/internal/execution"
	"autosniper/internal/models"
	"autosniper/internal/positions"
	"autosniper/internal/processor"
	"autosniper/internal/resilience"
	"autosniper/internal/store"
	"autosniper/internal/syncer"
	"autosniper/internal/trigger"
)

// Version information
const (
	Version = "0.1.0"
)

// DefaultOwner identifies this instance's rows in the durable store.
const DefaultOwner = "default"

// App holds the assembled application stack.
type App struct {
	Config       *config.Manager
	Logger       zerolog.Logger
	Exchange     exchange.Exchange
	Breaker      *resilience.Breaker
	Alerts       *alerts.Manager
	Positions    *positions.Manager
	Engine       *execution.Engine
	Trigger      *trigger.Engine
	Targets      store.TargetStore
	Processor    *processor.Processor
	Syncer       *syncer.Synchronizer
	Feed         detector.Feed
	Orchestrator *core.Orchestrator
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autosniper",
		Short: "Auto-sniping execution core",
		Long: `Autosniper executes trading opportunities from a pattern-detection feed.

It gates real-time triggers, drains a durable target queue, tracks open
positions and keeps in-memory state reconciled with its SQLite mirror.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/autosniper)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("paper", true, "use the simulated exchange")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd(logger))
	rootCmd.AddCommand(newStatusCmd(logger))
	rootCmd.AddCommand(newSyncCmd(logger))
	rootCmd.AddCommand(newCloseAllCmd(logger))
	rootCmd.AddCommand(newPositionsCmd(logger))
	rootCmd.AddCommand(newTargetCmd(logger))
	rootCmd.AddCommand(newAlertsCmd(logger))
	rootCmd.AddCommand(newConfigCmd(logger))

	return rootCmd
}

// buildApp assembles the full stack from configuration. The simulated
// exchange is the only adapter wired in; live connectivity plugs in behind
// the same interface.
func buildApp(cmd *cobra.Command, logger zerolog.Logger) (*App, error) {
	configDir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if configDir == "" {
		configDir = config.DefaultConfigDir()
	}

	alertMgr := alerts.NewManager(logger)
	ex := exchange.NewSimExchange(10000)
	breaker := resilience.NewBreaker("exchange", resilience.DefaultBreakerConfig())
	feed := detector.NewSimFeed()

	targetStore, err := store.NewSQLiteStore(filepath.Join(configDir, "sniper.db"))
	if err != nil {
		return nil, err
	}

	app := &App{
		Logger:   logger,
		Exchange: ex,
		Breaker:  breaker,
		Alerts:   alertMgr,
		Targets:  targetStore,
		Feed:     feed,
	}

	probes := config.HealthProbes{
		ExchangePing: ex.Ping,
		DetectorPing: feed.Ping,
		SafetyStatus: func(ctx context.Context) (models.SafetyStatus, error) {
			if !breaker.Healthy() {
				return models.SafetyCritical, nil
			}
			return models.SafetyNormal, nil
		},
		RiskHeadroom: func(ctx context.Context) (bool, error) {
			stats := breaker.Stats()
			return stats.FailureRate() < 50, nil
		},
	}
	app.Config = config.NewManager(*cfg, probes, alertMgr, logger)

	safety := func(ctx context.Context) (models.SafetyStatus, error) {
		return probes.SafetyStatus(ctx)
	}

	app.Positions = positions.NewManager(nil, alertMgr, logger)
	app.Engine = execution.NewEngine(app.Config, ex, breaker, app.Positions, safety, alertMgr, logger)
	app.Positions.SetExit(app.Engine.ExecuteSell)

	app.Processor = processor.New(app.Config, targetStore, app.Engine, app.Positions, logger)
	app.Syncer = syncer.New(app.Positions, targetStore, logger)

	execute := func(ctx context.Context, event models.TriggerEvent) {
		c := app.Config.Get()
		opp := models.TradingOpportunity{Symbol: event.Symbol, Match: event.Match}
		result := app.Engine.ExecuteBuy(ctx, event.Symbol, opp,
			c.PositionSizeUSDT, c.StopLossPercent, c.TakeProfitPercent)
		if result.Success {
			if _, err := app.Positions.Track(result, opp, c.StopLossPercent, c.TakeProfitPercent); err != nil {
				logger.Warn().Err(err).Str("symbol", event.Symbol).Msg("Tracking after rapid fill failed")
			}
		}
	}
	app.Trigger = trigger.NewEngine(app.Config, execute, breaker, feed.Connected, logger)

	app.Orchestrator = core.New(core.Deps{
		Owner:     DefaultOwner,
		Config:    app.Config,
		Engine:    app.Engine,
		Positions: app.Positions,
		Trigger:   app.Trigger,
		Processor: app.Processor,
		Syncer:    app.Syncer,
		Alerts:    alertMgr,
		Targets:   targetStore,
		Feed:      feed,
		Exchange:  ex,
		Breaker:   breaker,
		Logger:    logger,
	})
	return app, nil
}

func (a *App) Close() {
	if a.Targets != nil {
		a.Targets.Close()
	}
}

func printResponse(cmd *cobra.Command, resp models.Response) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else if resp.Success {
		data, _ := json.MarshalIndent(resp.Data, "", "  ")
		fmt.Println(string(data))
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("autosniper v%s\n", Version)
		},
	}
}

func newRunCmd(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the execution loop",
		Long:  "Starts the auto-sniping loop and runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			resp := app.Orchestrator.Start(cmd.Context())
			if !resp.Success {
				return fmt.Errorf("%s", resp.Error)
			}
			logger.Info().Msg("Running, press Ctrl-C to stop")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			app.Orchestrator.Stop()
			return nil
		},
	}
}

func newStatusCmd(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the execution report",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return printResponse(cmd, app.Orchestrator.Report(cmd.Context()))
		},
	}
}

func newSyncCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile memory state with the durable store",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			checkOnly, _ := cmd.Flags().GetBool("check")
			if checkOnly {
				return printResponse(cmd, app.Orchestrator.CheckConsistency(cmd.Context()))
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			force, _ := cmd.Flags().GetBool("force")
			direction, _ := cmd.Flags().GetString("direction")
			return printResponse(cmd, app.Orchestrator.Synchronize(
				cmd.Context(), syncer.Direction(direction), dryRun, force))
		},
	}
	cmd.Flags().Bool("check", false, "report drift without repairing")
	cmd.Flags().Bool("dry-run", false, "report what would change without writing")
	cmd.Flags().Bool("force", false, "run even when the check reports consistency")
	cmd.Flags().String("direction", string(syncer.DirectionMemoryToDB),
		"memory-to-db or bidirectional (db-to-memory restore runs at startup)")
	return cmd
}

func newCloseAllCmd(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "close-all",
		Short: "Emergency-close every active position",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return printResponse(cmd, app.Orchestrator.EmergencyCloseAll(cmd.Context()))
		},
	}
}

func newPositionsCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Inspect and close active positions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return printResponse(cmd, app.Orchestrator.ActivePositions())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "close <position-id>",
		Short: "Close a single position at market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return printResponse(cmd, app.Orchestrator.ClosePosition(cmd.Context(), args[0]))
		},
	})

	return cmd
}

func newTargetCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Manage durable snipe targets",
	}

	addCmd := &cobra.Command{
		Use:   "add <symbol>",
		Short: "Queue a snipe target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			size, _ := cmd.Flags().GetFloat64("size")
			confidence, _ := cmd.Flags().GetFloat64("confidence")
			stopLoss, _ := cmd.Flags().GetFloat64("stop-loss")
			at, _ := cmd.Flags().GetString("at")

			target := models.SnipeTarget{
				Owner:            DefaultOwner,
				Symbol:           args[0],
				PositionSizeUSDT: size,
				StopLossPercent:  stopLoss,
				ConfidenceScore:  confidence,
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parsing --at: %w", err)
				}
				target.TargetExecutionTime = &t
			}

			inserted, err := app.Targets.Insert(cmd.Context(), target)
			if err != nil {
				return err
			}
			return printResponse(cmd, models.OK(inserted))
		},
	}
	addCmd.Flags().Float64("size", 100, "position size in USDT")
	addCmd.Flags().Float64("confidence", 75, "confidence score 0-100")
	addCmd.Flags().Float64("stop-loss", 0, "stop loss percent (0 uses the configured default)")
	addCmd.Flags().String("at", "", "scheduled execution time, RFC3339")
	cmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snipe targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			status, _ := cmd.Flags().GetString("status")
			var targets []models.SnipeTarget
			if status != "" {
				targets, err = app.Targets.GetTargetsByStatus(cmd.Context(), models.TargetStatus(status))
			} else {
				targets, err = app.Targets.GetTargetsByOwner(cmd.Context(), DefaultOwner)
			}
			if err != nil {
				return err
			}
			return printResponse(cmd, models.OK(targets))
		},
	}
	listCmd.Flags().String("status", "", "filter by status")
	cmd.AddCommand(listCmd)

	return cmd
}

func newAlertsCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect operational alerts",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			n, _ := cmd.Flags().GetInt("limit")
			return printResponse(cmd, models.OK(app.Alerts.Recent(n)))
		},
	}
	listCmd.Flags().Int("limit", 20, "number of alerts to show")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return printResponse(cmd, app.Orchestrator.AcknowledgeAlert(args[0]))
		},
	})

	return cmd
}

func newConfigCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return printResponse(cmd, models.OK(app.Config.Get()))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config")
			if _, err := config.Load(configDir); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.DefaultConfigDir())
		},
	})

	return cmd
}
