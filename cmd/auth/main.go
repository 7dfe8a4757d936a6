package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/postika/auth/internal/audit"
	"github.com/postika/auth/internal/bootstrap"
	"github.com/postika/auth/internal/config"
	httptransport "github.com/postika/auth/internal/http"
	"github.com/postika/auth/internal/http/handler"
	httpmiddleware "github.com/postika/auth/internal/http/middleware"
	apimiddleware "github.com/postika/auth/internal/middleware"
	"github.com/postika/auth/internal/notify"
	"github.com/postika/auth/internal/referral"
	"github.com/postika/auth/internal/repository"
	"github.com/postika/auth/internal/server"
	"github.com/postika/auth/internal/service"
	"github.com/postika/auth/internal/store"
	"github.com/postika/auth/internal/telemetry"
	"github.com/postika/auth/internal/token"
	"github.com/postika/auth/internal/verification"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newReferralRepository,
			newVerificationRepository,
			newAuditRepository,
			newRedisClient,
			newNotifyQueue,
			newMailSender,
			newNotifyWorker,
			newTokenService,
			newReferralService,
			newVerificationService,
			newAuditRecorder,
			service.NewAuthService,
			handler.NewAuthHandler,
			newAuthMiddleware,
			newRateLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, runMigrations, bootstrap.EnsureAdmin, startNotifyWorker, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newReferralRepository(pool *pgxpool.Pool) repository.ReferralRepository {
	return repository.NewPostgresReferralRepo(pool)
}

func newVerificationRepository(pool *pgxpool.Pool) repository.VerificationRepository {
	return repository.NewPostgresVerificationRepo(pool)
}

func newAuditRepository(pool *pgxpool.Pool) repository.AuditRepository {
	return repository.NewPostgresAuditRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newNotifyQueue(client redis.UniversalClient) *notify.RedisQueue {
	return notify.NewRedisQueue(client)
}

func newMailSender(cfg config.Config) notify.Sender {
	return notify.NewSMTPSender(cfg)
}

func newNotifyWorker(queue *notify.RedisQueue, sender notify.Sender, logger *zap.Logger) *notify.Worker {
	return notify.NewWorker(queue, sender, logger)
}

func newTokenService(cfg config.Config) *token.Service {
	return token.NewService([]byte(cfg.SecretKey), cfg.AppName, cfg.AccessTokenTTL)
}

func newReferralService(users repository.UserRepository, referrals repository.ReferralRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *referral.Service {
	return referral.NewService(users, referrals, node, cfg.ReferralRewardKES, logger)
}

func newVerificationService(users repository.UserRepository, codes repository.VerificationRepository, queue *notify.RedisQueue, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *verification.Service {
	return verification.NewService(users, codes, queue, node, cfg.VerificationCodeTTL, logger)
}

func newAuditRecorder(repo repository.AuditRepository, node *snowflake.Node, logger *zap.Logger) *audit.Recorder {
	return audit.NewRecorder(repo, node, logger)
}

func newAuthMiddleware(authService *service.AuthService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{AuthService: authService}
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func runMigrations(cfg config.Config, logger *zap.Logger) error {
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database migrations applied")
	return nil
}

func startNotifyWorker(lc fx.Lifecycle, worker *notify.Worker) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				worker.Run(runCtx)
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
