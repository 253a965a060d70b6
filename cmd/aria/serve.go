package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/aria/internal/admin"
	"github.com/haasonsaas/aria/internal/artifacts"
	"github.com/haasonsaas/aria/internal/config"
	"github.com/haasonsaas/aria/internal/cron"
	"github.com/haasonsaas/aria/internal/engine"
	"github.com/haasonsaas/aria/internal/gateway"
	"github.com/haasonsaas/aria/internal/heartbeat"
	"github.com/haasonsaas/aria/internal/infra"
	"github.com/haasonsaas/aria/internal/observability"
	"github.com/haasonsaas/aria/internal/pool"
	"github.com/haasonsaas/aria/internal/sessions"
	"github.com/haasonsaas/aria/internal/storage"
	"github.com/haasonsaas/aria/internal/transport"
	"github.com/haasonsaas/aria/internal/workcycle"
	"github.com/haasonsaas/aria/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the aria runtime",
		Long: `Start the aria runtime with the agent pool, session manager, cron
scheduler, chat engine and work-cycle orchestrator.

The runtime will:
1. Generate a configuration file with fresh secrets if none exists
2. Open the database pool and run the DDL bootstrap
3. Wire the retry/breaker transport to the LLM gateway
4. Rehydrate the agent pool and start the scheduler tick loop
5. Serve the admin API on a loopback port

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with the default config
  aria serve

  # Start with a custom config
  aria serve --config /etc/aria/production.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if err := config.Bootstrap(configPath); err != nil {
		return fmt.Errorf("config bootstrap: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	observability.NewLogger(level, cfg.Logging.Format, os.Stderr)

	slog.Info("starting aria runtime",
		"version", version,
		"commit", commit,
		"config", configPath,
		"admin_addr", cfg.Admin.Addr(),
	)

	metrics := observability.NewMetrics()
	traceEndpoint := ""
	if cfg.Tracing.Enabled {
		traceEndpoint = cfg.Tracing.Endpoint
	}
	_, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "aria",
		ServiceVersion: version,
		Endpoint:       traceEndpoint,
	})

	db, err := storage.Open(cfg.Database.URL, storage.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdle,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := storage.Bootstrap(ctx, db); err != nil {
		return fmt.Errorf("database bootstrap: %w", err)
	}

	runtime, err := buildRuntime(ctx, cfg, db, metrics)
	if err != nil {
		return err
	}

	adminServer := admin.NewServer(admin.Deps{
		Pool:       runtime.pool,
		Sessions:   runtime.sessions,
		Breakers:   runtime.breakers,
		Heartbeats: runtime.heartbeats,
	}, admin.Config{Addr: cfg.Admin.Addr(), Token: cfg.Admin.Token})
	if err := adminServer.Start(); err != nil {
		return err
	}

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	if cfg.Scheduler.Enabled {
		if err := runtime.scheduler.Start(schedulerCtx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stopScheduler()
	if err := runtime.scheduler.Stop(shutdownCtx); err != nil {
		slog.Warn("scheduler drain incomplete", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("admin shutdown error", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

// runtimeDeps holds the wired runtime components.
type runtimeDeps struct {
	pool       *pool.Pool
	sessions   *sessions.Manager
	breakers   *infra.CircuitBreakerRegistry
	heartbeats heartbeat.Store
	scheduler  *cron.Scheduler
}

func buildRuntime(ctx context.Context, cfg *config.Config, db *sql.DB, metrics *observability.Metrics) (*runtimeDeps, error) {
	breakers := infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{
		OnStateChange: func(name, from, to string) {
			if to == infra.CircuitOpen {
				metrics.BreakerOpened(name)
			}
		},
	})

	sessionStore, err := sessions.NewPostgresStore(db)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	manager := sessions.NewManager(sessionStore, sessions.DefaultManagerConfig())

	agentPool := pool.New(pool.NewPostgresStore(db), pool.DefaultConfig())
	if err := agentPool.Rehydrate(ctx); err != nil {
		return nil, fmt.Errorf("pool rehydrate: %w", err)
	}

	heartbeats, err := heartbeat.NewPostgresStore(db)
	if err != nil {
		return nil, fmt.Errorf("heartbeat store: %w", err)
	}

	artifactStore, err := artifacts.NewStore(cfg.Artifacts.Root)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	tc := transport.NewClient(transport.Config{
		Breakers: breakers,
		Observer: metrics,
	}, transport.Endpoint{
		Name:    gateway.DefaultEndpoint,
		BaseURL: cfg.LLM.GatewayURL,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
	})
	llm := gateway.NewClient(tc, gateway.DefaultEndpoint)

	edgeConfigured := cfg.Edge.URL != ""
	if edgeConfigured {
		tc.Register(transport.Endpoint{
			Name:    edgeEndpoint,
			BaseURL: cfg.Edge.URL,
			APIKey:  cfg.Edge.APIKey,
			Timeout: cfg.Edge.Timeout,
		})
	}

	entries := make([]engine.ModelEntry, 0, len(cfg.LLM.Models))
	for _, m := range cfg.LLM.Models {
		entries = append(entries, engine.ModelEntry{Model: m.Model, MaxTokens: m.MaxTokens})
	}
	chain := engine.NewFallbackChain(llm, breakers, entries...)

	tools := engine.NewToolRegistry()
	chatEngine := engine.NewEngine(sessionStore, chain, tools, engine.Config{
		MaxToolIterations: cfg.LLM.MaxToolIterations,
		ContextWindow:     cfg.LLM.ContextWindow,
		SystemPrompt:      cfg.LLM.SystemPrompt,
	})

	scheduler := cron.NewScheduler(cron.NewPostgresJobStore(db),
		cron.WithWorkers(cfg.Scheduler.Workers),
		cron.WithTickInterval(cfg.Scheduler.Tick),
		cron.WithSessionResolver(cron.NewManagerResolver(manager, "main")),
		cron.WithHeartbeatRecorder(heartbeats),
	)

	goals := storage.NewPostgresGoalRepository(db)
	activity := storage.NewPostgresActivityRepository(db)
	spawnGate := chain.PrimaryBreaker().SpawnGate

	if err := engine.RegisterBuiltinTools(tools, engine.BuiltinDeps{
		Scheduler: scheduler,
		Goals:     goals,
		Artifacts: artifactStore,
		Pool:      agentPool,
		SpawnGate: spawnGate,
	}); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	orchestrator := workcycle.New(workcycle.Deps{
		Goals:      goals,
		Activity:   activity,
		Heartbeats: heartbeats,
		Artifacts:  artifactStore,
		Engine:     chatEngine,
		Gate:       spawnGate,
		Probe:      db.PingContext,
	})

	registerActions(scheduler, metrics, orchestrator, chatEngine, heartbeats, tc, edgeConfigured)

	return &runtimeDeps{
		pool:       agentPool,
		sessions:   manager,
		breakers:   breakers,
		heartbeats: heartbeats,
		scheduler:  scheduler,
	}, nil
}

// edgeEndpoint names the transport endpoint for the edge collaborator that
// owns the Telegram long-poll.
const edgeEndpoint = "edge"

// chatPrompts map the chat-driven actions to their standing prompts.
var chatPrompts = map[models.JobAction]string{
	models.ActionHourlyGoalCheck: "Review the active goals and note any that are blocked or stale.",
	models.ActionSixHourReview:   "Review the last six hours of activity and summarize progress and problems.",
	models.ActionMorningCheckin:  "Morning check-in: review goals and plan the day's priorities.",
	models.ActionSocialPost:      "Draft one short social post about notable recent progress and stage it as an artifact for review.",
}

// telegramPollAction pings the edge so it runs one Telegram poll cycle. The
// runtime never talks to Telegram itself. Without a configured edge URL the
// action fails with a configuration error rather than unknown_action.
func telegramPollAction(tc *transport.Client, configured bool) cron.ActionFunc {
	return func(ctx context.Context, job *models.CronJob, session *models.Session) error {
		if !configured {
			return fmt.Errorf("telegram_poll: edge.url is not configured")
		}
		_, err := tc.Request(ctx, edgeEndpoint, http.MethodPost, "/v1/telegram/poll", nil)
		return err
	}
}

func registerActions(scheduler *cron.Scheduler, metrics *observability.Metrics, orchestrator *workcycle.Orchestrator, chatEngine *engine.Engine, heartbeats heartbeat.Store, tc *transport.Client, edgeConfigured bool) {
	instrument := func(action models.JobAction, fn cron.ActionFunc) cron.ActionFunc {
		return func(ctx context.Context, job *models.CronJob, session *models.Session) error {
			err := fn(ctx, job, session)
			if err != nil {
				metrics.RecordDispatch(string(action), "error")
			} else {
				metrics.RecordDispatch(string(action), "ok")
			}
			return err
		}
	}

	scheduler.RegisterAction(models.ActionWorkCycle,
		instrument(models.ActionWorkCycle, orchestrator.RunCycle))

	scheduler.RegisterAction(models.ActionHeartbeat,
		instrument(models.ActionHeartbeat, func(ctx context.Context, job *models.CronJob, session *models.Session) error {
			return heartbeats.Record(ctx, heartbeat.NewBeat(job.Name, models.HeartbeatOK, nil))
		}))

	scheduler.RegisterAction(models.ActionTelegramPoll,
		instrument(models.ActionTelegramPoll, telegramPollAction(tc, edgeConfigured)))

	for action, prompt := range chatPrompts {
		scheduler.RegisterAction(action,
			instrument(action, func(ctx context.Context, job *models.CronJob, session *models.Session) error {
				if session == nil {
					return fmt.Errorf("action %s needs a session", action)
				}
				_, err := chatEngine.Chat(ctx, engine.ChatRequest{
					SessionID:   session.ID,
					UserMessage: prompt,
					EnableTools: true,
				}, nil)
				return err
			}))
	}
}
