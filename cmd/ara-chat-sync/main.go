package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sparcs-kaist/ara-chat-sync/internal/api"
	"github.com/sparcs-kaist/ara-chat-sync/internal/config"
	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
	"github.com/sparcs-kaist/ara-chat-sync/internal/engine"
	"github.com/sparcs-kaist/ara-chat-sync/internal/push"
	"github.com/sparcs-kaist/ara-chat-sync/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger := log.L()
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Init(cfg.Log)
	logger := log.L()
	logger.Info().Str("api", cfg.API.BaseURL).Str("push", cfg.Push.Endpoint).Msg("starting chat sync engine")

	self := domain.Profile{UserID: cfg.Self.UserID, Nickname: cfg.Self.Nickname}
	client := api.NewClient(cfg.API, logger)
	conn := push.NewConn(cfg.Push, logger)

	eng := engine.New(engine.Config{
		PageSize:          cfg.Chat.PageSize,
		ReconnectInterval: cfg.Chat.ReconnectInterval,
	}, conn, client, self, logger)

	ctx, cancel := context.WithCancel(log.WithLogger(context.Background(), logger))
	defer cancel()

	// Warm the roster before the push channel comes up; a failure here
	// is non-fatal, the cache fills on the first successful refresh.
	if err := eng.RefreshRooms(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial roster refresh failed")
	}

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("shutting down")
		cancel()
		<-done
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("engine stopped")
		}
	}

	logger.Info().Msg("chat sync engine stopped")
}
