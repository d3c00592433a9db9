package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mfcabral/streambridge/internal/api"
	"github.com/mfcabral/streambridge/internal/auth"
	"github.com/mfcabral/streambridge/internal/config"
	"github.com/mfcabral/streambridge/internal/eventbus"
	"github.com/mfcabral/streambridge/internal/handler"
	"github.com/mfcabral/streambridge/internal/params"
	"github.com/mfcabral/streambridge/internal/session"
	sig "github.com/mfcabral/streambridge/internal/signal"
	"github.com/mfcabral/streambridge/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	logger.Info("streambridge starting",
		zap.String("api", cfg.APIBaseURL),
		zap.String("status", cfg.StatusAddr),
		zap.String("sdp", cfg.SDPAddr),
		zap.String("auth", cfg.AuthAddr),
	)

	authPort, err := cfg.AuthPort()
	if err != nil {
		logger.Fatal("invalid auth listener address", zap.Error(err))
	}

	bus := eventbus.New()
	pool := worker.NewPool(cfg.WorkerPool)
	client := api.NewClient(cfg.APIBaseURL, logger)
	store := params.NewStore()

	authStore := auth.NewStore(logger, cfg.ConfigDir, cfg.AuthStateTTL)
	if key, err := authStore.LoadAPIKey(); err != nil {
		logger.Warn("failed to load credentials", zap.Error(err))
	} else if key != "" {
		client.SetToken(key)
		logger.Info("credentials loaded", zap.String("dir", cfg.ConfigDir))
	} else {
		logger.Info("not logged in")
	}

	machine := session.New(session.Deps{
		Client:       client,
		Bus:          bus,
		Pool:         pool,
		Logger:       logger,
		CreateParams: store.BuildCreateParams,
	})
	machine.SetSourceReady(cfg.SourceReady)

	proxy := sig.New(logger, client, machine, pool)
	coalescer := params.NewCoalescer(logger, store, client, machine, pool, cfg.DebounceDelay)
	flow := auth.NewFlow(logger, authStore, client, machine, cfg.LoginURL, authPort)

	h := handler.New(logger, machine, proxy, coalescer, store, flow, bus, cfg.LoginSuccessURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go machine.Run(ctx)

	servers := []*http.Server{
		handler.Server(cfg.StatusAddr, h.StatusRouter()),
		handler.Server(cfg.SDPAddr, h.SDPRouter()),
		handler.Server(cfg.AuthAddr, h.AuthRouter()),
	}
	for _, srv := range servers {
		srv := srv
		go func() {
			logger.Info("listener started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("listener failed", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}()
	}

	machine.Emit("initialized", map[string]any{"logged_in": client.HasToken()})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	done := make(chan struct{})
	machine.Do(func() { machine.Stop(); close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		srv.Shutdown(shutdownCtx)
	}
	cancel()
}
