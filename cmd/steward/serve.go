package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	contractx "github.com/pattarawat/steward/agent/contract"
	dispatchx "github.com/pattarawat/steward/agent/dispatch"
	executorx "github.com/pattarawat/steward/agent/executor"
	llmx "github.com/pattarawat/steward/agent/llm"
	"github.com/pattarawat/steward/agent/orchestrator"
	plannerx "github.com/pattarawat/steward/agent/planner"
	promptx "github.com/pattarawat/steward/agent/prompt"
	reconcilex "github.com/pattarawat/steward/agent/reconcile"
	synthx "github.com/pattarawat/steward/agent/synth"
	configx "github.com/pattarawat/steward/pkg/config"
	logx "github.com/pattarawat/steward/pkg/logger"
	serverx "github.com/pattarawat/steward/server"
	storex "github.com/pattarawat/steward/store"
)

const bootTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logx.Component("boot")

	bootCtx, cancel := context.WithTimeout(context.Background(), bootTimeout)
	defer cancel()

	db, err := storex.New(*configx.MustNew[storex.Config]("POSTGRES"))
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(bootCtx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	if err := db.CreateTables(bootCtx); err != nil {
		return fmt.Errorf("provision schema: %w", err)
	}

	conversations := storex.NewConversationStore(db)
	tasks := storex.NewTaskStore(db)

	var notifier contractx.ChangeNotifier
	var listener contractx.ChangeListener
	redisCfg := configx.MustNew[storex.RedisConfig]("REDIS")
	if redisCfg.Enabled() {
		bus, err := storex.NewBus(*redisCfg)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		defer func() { _ = bus.Close() }()
		if err := bus.Ping(bootCtx); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		notifier, listener = bus, bus
		log.Info().Msg("task change notifications enabled")
	} else {
		log.Info().Msg("redis not configured, task reconciliation will poll only")
	}

	registry, err := executorx.NewRegistry(executorx.Deps{
		Conversations: conversations,
		Tasks:         tasks,
		Notifier:      notifier,
	})
	if err != nil {
		return fmt.Errorf("build executor registry: %w", err)
	}

	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	if err := llmCfg.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}

	prompts := promptx.LoadPromptSet()
	plannerImpl := plannerx.New(*llmCfg, prompts.Planner, registry.Names())
	synthImpl := synthx.New(*llmCfg, prompts.Synthesizer)

	dispatcherImpl, err := dispatchx.New(registry, *configx.MustNew[dispatchx.Config]("DISPATCH"))
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	reconcilerImpl, err := reconcilex.New(tasks, listener, *configx.MustNew[reconcilex.Config]("RECONCILE"))
	if err != nil {
		return fmt.Errorf("build reconciler: %w", err)
	}

	service, err := orchestrator.New(orchestrator.Deps{
		Conversations: conversations,
		Planner:       plannerImpl,
		Dispatcher:    dispatcherImpl,
		Synthesizer:   synthImpl,
		Reconciler:    reconcilerImpl,
	}, *configx.MustNew[orchestrator.Config]("RUN"))
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	serverCfg := configx.MustNew[serverx.Config]("HTTP")
	handler, err := serverx.NewHandler(serverx.Deps{
		Runs:          service,
		Conversations: conversations,
		Tasks:         tasks,
	})
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	srv := &http.Server{
		Addr:    serverCfg.Addr,
		Handler: handler,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown incomplete, forcing close")
			_ = srv.Close()
		}
	}

	log.Info().Msg("server stopped")
	return nil
}
