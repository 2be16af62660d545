// Sentineld supervises a coding agent in real time.
//
// The daemon classifies the agent's thinking chunks against a configurable
// supervisor hierarchy using an LLM rule judge, detects task-item completion
// in the agent's output, and gates the agent's stop requests on outstanding
// work and recent alerts. Everything is exposed on a loopback HTTP boundary.
//
// Usage:
//
//	# Start with defaults (config at ~/.config/sentineld/config.yaml)
//	sentineld
//
//	# Explicit config and supervisor hierarchy
//	sentineld --config ./config.yaml --supervisors ./supervisors.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/bus"
	"github.com/fyrsmithlabs/sentineld/internal/completion"
	"github.com/fyrsmithlabs/sentineld/internal/config"
	"github.com/fyrsmithlabs/sentineld/internal/gate"
	"github.com/fyrsmithlabs/sentineld/internal/history"
	"github.com/fyrsmithlabs/sentineld/internal/judge"
	"github.com/fyrsmithlabs/sentineld/internal/logging"
	"github.com/fyrsmithlabs/sentineld/internal/scheduler"
	"github.com/fyrsmithlabs/sentineld/internal/supervisor"
	"github.com/fyrsmithlabs/sentineld/internal/task"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath      string
		supervisorsPath string
	)

	root := &cobra.Command{
		Use:           "sentineld",
		Short:         "Real-time supervisor for a coding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, configPath, supervisorsPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config.yaml")
	root.Flags().StringVar(&supervisorsPath, "supervisors", "", "path to supervisors.yaml (overrides config)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sentineld by Fyrsmith Labs\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", gitCommit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: %v\n", err)
		os.Exit(1)
	}
}

// run wires all components and blocks until the context is cancelled.
func run(ctx context.Context, configPath, supervisorsPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if supervisorsPath != "" {
		cfg.SupervisorsPath = supervisorsPath
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting sentineld",
		zap.String("version", version),
		zap.Int("gate_port", cfg.Gate.Port),
		zap.String("judge_model", cfg.Judge.Model))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var store history.Store
	if cfg.History.Path != "" {
		store = history.NewFileStore(cfg.History.Path)
	} else {
		logger.Warn("no history path resolved, alerts visible this session only")
	}
	alertLog := history.NewLog(cfg.History.Capacity, store, logger)
	tasks := task.NewList()
	detector := completion.NewDetector(logger)

	ruleJudge, err := judge.NewLLMJudge(judge.Config{
		BaseURL:           cfg.Judge.BaseURL,
		Model:             cfg.Judge.Model,
		APIKey:            cfg.Judge.APIKey,
		Timeout:           cfg.Judge.Timeout,
		RequestsPerSecond: cfg.Judge.RequestsPerSecond,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing rule judge: %w", err)
	}

	treeMetrics := supervisor.NewMetrics(registry)
	tree, err := buildTree(cfg.SupervisorsPath, ruleJudge, alertLog, treeMetrics, logger)
	if err != nil {
		return fmt.Errorf("building supervisor tree: %w", err)
	}

	behavior, err := supervisor.Build([]config.SupervisorConfig{behaviorEntry()},
		ruleJudge, alertLog, logger)
	if err != nil {
		return fmt.Errorf("building behavior supervisor: %w", err)
	}

	var events *bus.Bus
	if cfg.Bus.Enabled {
		events = bus.Connect(cfg.Bus.URL, logger)
	} else {
		events = bus.New(nil, logger)
	}
	defer events.Close()

	analyzer := scheduler.New(tree, scheduler.Config{
		JudgeTimeout:      cfg.Judge.Timeout,
		TimeoutMultiplier: cfg.Scheduler.TimeoutMultiplier,
	}, logger,
		scheduler.WithBehaviorTree(behavior),
		scheduler.WithBus(events),
		scheduler.WithMetrics(scheduler.NewMetrics(registry)),
	)

	stopGate := gate.New(tasks, alertLog, cfg.Gate.AlertWindow)
	server, err := gate.NewServer(cfg.Gate, gate.Deps{
		Gate:     stopGate,
		Tasks:    tasks,
		Detector: detector,
		Analyzer: analyzer,
		History:  alertLog,
		Events:   events,
		Gatherer: registry,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing gate server: %w", err)
	}

	// Live reload: rebuild the tree when the supervisors file changes and
	// swap it in between traversals. Queued chunks are not dropped.
	if cfg.SupervisorsPath != "" {
		watcher, werr := config.WatchFile(cfg.SupervisorsPath, logger, func() {
			fresh, berr := buildTree(cfg.SupervisorsPath, ruleJudge, alertLog, treeMetrics, logger)
			if berr != nil {
				logger.Error("supervisor reload failed, keeping current tree", zap.Error(berr))
				return
			}
			analyzer.SwapTree(fresh)
			logger.Info("supervisor tree reloaded", zap.String("path", cfg.SupervisorsPath))
		})
		if werr != nil {
			logger.Warn("live reload unavailable", zap.Error(werr))
		} else {
			defer watcher.Close()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gate server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gate shutdown failed", zap.Error(err))
	}
	analyzer.Wait()

	return nil
}

// buildTree loads the supervisor hierarchy and constructs the classification
// tree. Invalid entries are logged and skipped; valid entries still load.
// An empty path yields a minimal permissive tree.
func buildTree(path string, j judge.RuleJudge, sink supervisor.AlertSink,
	metrics *supervisor.Metrics, logger *zap.Logger) (*supervisor.Tree, error) {

	var entries []config.SupervisorConfig
	if path == "" {
		logger.Warn("no supervisors file configured, using a permissive root")
		entries = []config.SupervisorConfig{
			{ID: "root", Name: "Root", Type: config.TypeRouter},
		}
	} else {
		loaded, entryErrs, err := config.LoadSupervisors(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entryErrs {
			logger.Warn("skipping invalid supervisor entry", zap.Error(e))
		}
		entries = loaded
	}

	return supervisor.Build(entries, j, sink, logger, supervisor.WithMetrics(metrics))
}

// behaviorEntry is the always-on behavior specialist. It runs outside
// keyword routing whenever a chunk arrives with a task description and
// checks that the agent's reasoning stays on task.
func behaviorEntry() config.SupervisorConfig {
	return config.SupervisorConfig{
		ID:   "behavior",
		Name: "Behavior",
		Type: config.TypeSpecialist,
		Rules: []config.RuleConfig{
			{
				ID:          "behavior-drift",
				Description: "Reasoning drifts away from the stated task",
				Severity:    "medium",
				Check: "The context JSON contains a task_description. Determine whether " +
					"the reasoning text is working toward that task. Flag a violation " +
					"only when the text pursues clearly unrelated work.",
			},
			{
				ID:          "behavior-giveup",
				Description: "Agent abandons or silently skips required work",
				Severity:    "high",
				Check: "Determine whether the reasoning text declares work finished, " +
					"skipped, or not worth doing while the task_description in the " +
					"context JSON still requires it.",
			},
		},
	}
}
