package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/api"
	"github.com/sells-group/opsprofile/internal/dispatch"
	"github.com/sells-group/opsprofile/internal/intake"
	"github.com/sells-group/opsprofile/internal/metrics"
	"github.com/sells-group/opsprofile/internal/monitoring"
	"github.com/sells-group/opsprofile/internal/pipeline"
	"github.com/sells-group/opsprofile/internal/store"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake and profile API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		startedAt := time.Now()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := initDispatcher(env.Pipeline)
		if err != nil {
			return err
		}

		handler := buildHandler(env, d)

		if d.local {
			go recoverStranded(ctx, env.Store, d, startedAt)
		}
		if cfg.Monitoring.Enabled {
			watch := monitoring.NewWatch(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go watch.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
			if err := d.Close(sctx); err != nil {
				zap.L().Warn("dispatcher shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildHandler wires intake and the API routes.
func buildHandler(env *appEnv, d dispatch.Dispatcher) http.Handler {
	var limiter intake.Limiter
	if env.Redis != nil {
		limiter = intake.NewRedisLimiter(env.Redis, cfg.Intake.RateLimit, cfg.Intake.RateWindow())
	} else {
		zap.L().Warn("redis not configured, intake rate limiting disabled")
	}
	var rq intake.ReviewQueue
	if env.Review != nil {
		rq = env.Review
	}

	var opts []intake.ServiceOption
	if policy, err := pipeline.ParseReviewPolicy(cfg.Pipeline.ManualReviewPolicy); err == nil && policy == pipeline.PolicyGate {
		opts = append(opts, intake.WithFlaggedHeld())
	}

	svc := intake.NewService(
		limiter,
		intake.NewValidator(cfg.Intake.WebmailDomains, cfg.Intake.MismatchPolicy),
		env.Store,
		d,
		rq,
		opts...,
	)
	return api.NewServer(svc, env.Tokens, env.Store, api.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     metrics.Handler(),
	}).Handler()
}

// recoverStranded re-dispatches submissions a previous process left
// queued or processing.
func recoverStranded(ctx context.Context, st store.Store, d dispatch.Dispatcher, cutoff time.Time) {
	n, err := dispatch.Sweep(ctx, st, d, cutoff)
	if err != nil {
		zap.L().Error("recovery sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("recovery sweep re-dispatched submissions", zap.Int("count", n))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
