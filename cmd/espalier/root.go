package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/adapters/file"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/adapters/process"
	redisAdapter "github.com/aretw0/espalier/pkg/adapters/redis"
	"github.com/aretw0/espalier/pkg/capability"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
)

var rootCmd = &cobra.Command{
	Use:   "espalier",
	Short: "Espalier is a durable workflow orchestration engine",
	Long: `Espalier executes declarative plans of interdependent steps with
validation, approval gating, durable state and compensating rollback.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", ".espalier/runs", "Directory for persisted run state (file store)")
	rootCmd.PersistentFlags().String("store", "file", "State store backend: file or redis")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address (store=redis)")
	rootCmd.PersistentFlags().String("redis-password", "", "Redis password (store=redis)")
	rootCmd.PersistentFlags().Int("redis-db", 0, "Redis database number (store=redis)")
	rootCmd.PersistentFlags().String("tools", "tools.yaml", "Allow-listed process tools config")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
}

// newEngine builds the engine from the command's persistent flags. The
// returned registry already carries the process-backed capabilities from the
// tools config.
func newEngine(cmd *cobra.Command) (*espalier.Engine, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(level)

	tools, err := loadRegistry(cmd)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := metrics.Hooks()
	if verbose {
		hooks = observability.MergeHooks(hooks, debugHooks(logger))
	}

	opts := []espalier.Option{
		espalier.WithLogger(logger),
		espalier.WithLifecycleHooks(hooks),
	}

	backend, _ := cmd.Flags().GetString("store")
	switch backend {
	case "file":
		dataDir, _ := cmd.Flags().GetString("data-dir")
		opts = append(opts, espalier.WithStore(file.NewStore(dataDir)))

	case "redis":
		addr, _ := cmd.Flags().GetString("redis-addr")
		password, _ := cmd.Flags().GetString("redis-password")
		db, _ := cmd.Flags().GetInt("redis-db")

		store := redisAdapter.New(addr, password, db)
		opts = append(opts,
			espalier.WithStore(store),
			espalier.WithLocker(redisAdapter.NewLocker(store.Client(), "espalier:")),
		)

	default:
		return nil, fmt.Errorf("unknown store backend %q (expected file or redis)", backend)
	}

	return espalier.New(tools, opts...)
}

// debugHooks traces every lifecycle event through the logger.
func debugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnPhaseChange: func(ctx context.Context, e *domain.PhaseEvent) {
			logger.DebugContext(ctx, "phase change", "plan_id", e.PlanID, "from", e.From, "to", e.To)
		},
		OnStepStart: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step start", "plan_id", e.PlanID, "step_id", e.StepID)
		},
		OnStepFinish: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step finish",
				"plan_id", e.PlanID,
				"step_id", e.StepID,
				"status", e.Status,
				"duration", e.Duration,
			)
		},
		OnRollbackStep: func(ctx context.Context, e *domain.RollbackEvent) {
			logger.DebugContext(ctx, "rollback step", "plan_id", e.PlanID, "step_id", e.StepID, "outcome", e.Outcome)
		},
	}
}

// loadRegistry builds the capability registry for the CLI: every tool in the
// tools config becomes an action under the "process" skill.
func loadRegistry(cmd *cobra.Command) (*capability.Registry, error) {
	toolsPath, _ := cmd.Flags().GetString("tools")

	tools, err := process.LoadTools(toolsPath)
	if err != nil {
		return nil, err
	}

	reg := capability.NewRegistry()
	runner := process.NewRunner(process.WithRegistry(tools))
	runner.Install(reg, "process")

	return reg, nil
}
