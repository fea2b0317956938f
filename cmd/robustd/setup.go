package main

import (
	"context"
	"log/slog"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/internal/identity"
	redisclient "github.com/bbqsrc/robust/internal/redis"
	"github.com/bbqsrc/robust/internal/relay"
	"github.com/bbqsrc/robust/internal/server"
	"github.com/bbqsrc/robust/internal/store"
)

// setup is the robustd composition root. It creates infrastructure
// clients, the stores, the relay engine, and registers the HTTP routes.
func setup(ctx context.Context, deps server.SetupDeps) (*server.Runtime, error) {
	cfg := deps.Config
	logger := deps.Logger

	// 1. Infrastructure clients.
	redisClient := redisclient.NewClient(redisclient.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	// 2. Stores.
	clock := domain.RealClock{}
	messages := store.NewMessageStore(redisClient.RDB, clock)
	users := store.NewUserStore(redisClient.RDB)

	// 3. Relay core.
	registry := relay.NewRegistry(logger)
	challenges := relay.NewChallengeRegistry(clock, cfg.Auth.ChallengeTTL, logger)

	provider := identity.NewClient(identity.Config{
		ConsumerKey:     cfg.OAuth.ConsumerKey,
		ConsumerSecret:  cfg.OAuth.ConsumerSecret,
		RequestTokenURL: cfg.OAuth.RequestTokenURL,
		AuthorizeURL:    cfg.OAuth.AuthorizeURL,
		VerifyURL:       cfg.OAuth.VerifyURL,
	}, nil)

	authSvc := relay.NewAuthService(relay.AuthDeps{
		Users:        users,
		Challenges:   challenges,
		Provider:     provider,
		Clock:        clock,
		Logger:       logger,
		CallbackBase: cfg.OAuth.CallbackBase,
		TokenSecret:  []byte(cfg.Token.Secret),
		Modes:        cfg.Auth.Modes,
	})

	handlers := relay.NewHandlers(relay.HandlersDeps{
		Messages: messages,
		Users:    users,
		Registry: registry,
		Clock:    clock,
		Logger:   logger,
	})

	rly := relay.New(relay.Config{
		MOTD:     cfg.MOTD,
		IdleWait: cfg.TCP.IdleWait,
		ReadWait: cfg.TCP.ReadWait,
		Options: map[string]any{
			"auth": authSvc.Modes(),
			"motd": cfg.MOTD,
		},
	}, relay.NewDispatcher(handlers, authSvc), registry, challenges, logger)

	// 4. HTTP routes: auth redirect flow and the WebSocket bridge.
	if cfg.ModeEnabled("oauth") {
		identity.NewHandler(provider, authSvc, cfg.OAuth.CallbackBase, logger).Register(deps.Router)
	}
	deps.Router.Handle("/ws", rly.WSHandler(ctx))

	logger.InfoContext(ctx, "relay initialized",
		slog.Any("auth_modes", authSvc.Modes()),
		slog.String("tcp_addr", cfg.TCP.Addr),
	)

	cleanup := func(_ context.Context) error {
		return redisClient.Close()
	}

	return &server.Runtime{Relay: rly, Challenges: challenges, Cleanup: cleanup}, nil
}
