package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jwttoken "chainrelay/internal/jwt_token"
	"chainrelay/internal/message"
	messagehandler "chainrelay/internal/message/handler"
	"chainrelay/internal/notarization"
	notarizationhandler "chainrelay/internal/notarization/handler"
	"chainrelay/internal/platform/httpserver"
	"chainrelay/internal/platform/metrics"
	"chainrelay/internal/relay/router"
	httptransport "chainrelay/internal/transport/http"
	"chainrelay/internal/transport/ws"
	"chainrelay/internal/verification"
	verificationhandler "chainrelay/internal/verification/handler"
	platformstrings "chainrelay/pkg/platform/strings"
)

var seedUsers []string

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay, the notarization pipeline and the recovery sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
	cmd.Flags().StringSliceVar(&seedUsers, "seed-user", nil, "create these usernames at startup (development)")
	return cmd
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, cfg, baseLogger)
	if err != nil {
		return err
	}
	defer a.close()

	for _, name := range platformstrings.DedupeAndTrim(seedUsers) {
		u, err := a.users.Create(ctx, name)
		if err != nil {
			a.logger.WarnContext(ctx, "seed user skipped", "username", name, "error", err)
			continue
		}
		a.logger.InfoContext(ctx, "seeded user", "user_id", u.ID, "username", u.Username)
	}

	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer))
	relay := router.New(a.messages, a.users, a.registry, a.pipeline, a.logger)

	notarize := notarizationhandler.New(notarization.NewService(a.messages, a.pipeline), a.pipeline, a.sweeper, a.logger)
	handler := httptransport.NewRouter(httptransport.Deps{
		Logger:     a.logger,
		Metrics:    metrics.New(),
		Validator:  validator,
		AdminToken: cfg.Server.AdminToken,
		Modules: []httptransport.RouteRegistrar{
			messagehandler.New(message.NewService(a.messages, a.users), a.logger),
			verificationhandler.New(verification.NewService(a.messages, a.ledger, a.logger), a.logger),
			notarize,
		},
		Admin: []httptransport.AdminRegistrar{notarize},
		WebSocket: ws.NewHandler(validator, a.users, a.registry, relay, a.logger, ws.Options{
			SendBuffer:   cfg.Server.SendBuffer,
			WriteTimeout: cfg.Server.WriteTimeout,
			PingInterval: cfg.Server.PingInterval,
		}),
		Presence: a.registry,
		Health:   a.healthChecks(),
	})
	srv := httpserver.New(cfg.Server.Addr, handler)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.pipeline.Run(ctx)
	})
	g.Go(func() error {
		return a.sweeper.Run(ctx, cfg.Pipeline.SweepInterval)
	})
	g.Go(func() error {
		return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, a.logger)
	})
	return g.Wait()
}

func (a *app) healthChecks() []httptransport.HealthCheck {
	checks := []httptransport.HealthCheck{{Name: "ledger", Check: a.ledger.Health}}
	if a.db != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "database", Check: a.db.PingContext})
	}
	if a.redis != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "redis", Check: a.redis.Health})
	}
	if a.producer != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "kafka", Check: a.producer.Health})
	}
	return checks
}
