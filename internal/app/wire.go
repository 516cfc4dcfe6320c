package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"

	"github.com/onchainhedge/hedgebridge/internal/accumulator"
	s3blob "github.com/onchainhedge/hedgebridge/internal/blob/s3"
	"github.com/onchainhedge/hedgebridge/internal/broker/real"
	"github.com/onchainhedge/hedgebridge/internal/broker/simulated"
	"github.com/onchainhedge/hedgebridge/internal/cache/redis"
	"github.com/onchainhedge/hedgebridge/internal/chainfeed"
	"github.com/onchainhedge/hedgebridge/internal/config"
	"github.com/onchainhedge/hedgebridge/internal/crypto"
	"github.com/onchainhedge/hedgebridge/internal/decoder"
	"github.com/onchainhedge/hedgebridge/internal/domain"
	"github.com/onchainhedge/hedgebridge/internal/executor"
	"github.com/onchainhedge/hedgebridge/internal/lease"
	"github.com/onchainhedge/hedgebridge/internal/notify"
	"github.com/onchainhedge/hedgebridge/internal/pipeline"
	"github.com/onchainhedge/hedgebridge/internal/poller"
	"github.com/onchainhedge/hedgebridge/internal/server"
	"github.com/onchainhedge/hedgebridge/internal/store/postgres"
	"github.com/onchainhedge/hedgebridge/internal/supervisor"
	"github.com/onchainhedge/hedgebridge/internal/telemetry"
)

// Dependencies bundles every fully-wired collaborator the daemon needs to
// run. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Supervisor  *supervisor.Supervisor
	Server      *server.Server
	Subscriber  *chainfeed.Subscriber
	Archiver    *pipeline.Archiver
	ArchiveCron string
}

// Wire constructs the full dependency graph from cfg: the Postgres store
// (C1), Redis lease-hint cache and rate limiter, the S3 cold-storage
// archiver, the broker adapter selected by cfg.Broker.Kind, and every core
// component (C2-C10) wired against them. It returns a cleanup function that
// releases every opened resource in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- PostgreSQL: the single relational backend for every table (§6) ---
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DatabaseURL: cfg.Database.URL,
		MaxConns:    cfg.Database.PoolMaxConns,
		MinConns:    cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pg.Close)

	if cfg.Database.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pg.Pool()
	events := postgres.NewEventStore(pool)
	trades := postgres.NewTradeStore(pool)
	accs := postgres.NewAccumulatorStore(pool)
	locks := postgres.NewLockStore(pool)
	executions := postgres.NewExecutionStore(pool)
	audit := postgres.NewAuditStore(pool)

	// --- Redis: lease-hint cache (advisory only, §9) + broker rate limiter ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	leaseHints := redis.NewLeaseHintCache(redisClient)
	rateLimiter := redis.NewRateLimiter(redisClient)

	// --- S3: cold-storage archive of processed events/trades/executions ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	blobWriter := s3blob.NewWriter(s3Client)
	blobReader := s3blob.NewReader(s3Client)
	blobArchiver := s3blob.NewArchiver(blobWriter, blobReader, events, trades, executions, audit)
	archiver := pipeline.NewArchiver(blobArchiver, cfg.S3.ArchiveRetentionDays, logger.With(slog.String("component", "archiver")))

	// --- Telemetry ---
	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	// --- Lease manager (C5), with the Redis hint cache as a DB-contention
	// optimization only (spec §5/§9: never the correctness boundary) ---
	leases := lease.NewManager(locks, accs, cfg.Execution.LeaseTTL.Duration, lease.WithHintCache(leaseHints))

	// --- Accumulator (C4) ---
	brokerKind := domain.BrokerKind(strings.ToLower(cfg.Broker.Kind))
	acc := accumulator.NewProcessor(pg, trades, accs, executions, leases, brokerKind)

	// --- Broker adapter (C7) ---
	broker, err := wireBroker(cfg, pool, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: broker: %w", err)
	}

	// --- Chain reader + decoder (C3) ---
	tokens, err := wireTokenMap(cfg.Chain.Tokens)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain tokens: %w", err)
	}
	chainReader := chainfeed.NewStaticChainReader(tokens)
	dec, err := decoder.New(
		common.HexToAddress(cfg.Chain.OrderbookAddress),
		common.HexToHash(cfg.Chain.OrderHash),
		chainReader,
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: decoder: %w", err)
	}

	// --- Chain stream (C2's upstream producer) ---
	stream := chainfeed.New(cfg.Chain.WSRPCURL, common.HexToAddress(cfg.Chain.OrderbookAddress), logger.With(slog.String("component", "chainfeed")))

	// --- Notifications: operator-visible terminal events (spec §7's
	// "structured logs, telemetry counters, Failed execution rows") are
	// supplemented by an out-of-band push so an operator doesn't have to be
	// staring at logs when a symbol fails to hedge. Built before C8/C9/C10
	// below so each can push a notification on its own terminal transitions. ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Order executor (C8) ---
	exec := executor.New(
		pg,
		executions,
		leases,
		broker,
		executor.RetryPolicy{
			MaxAttempts: cfg.Execution.PlaceRetry.Max,
			BaseDelay:   cfg.Execution.PlaceRetry.Base.Duration,
			Factor:      cfg.Execution.PlaceRetry.Factor,
		},
		metrics,
		notifier,
		logger.With(slog.String("component", "executor")),
	)
	exec.SetRateLimiter(rateLimiter)

	// --- Status poller (C9) ---
	poll := poller.New(
		pg,
		executions,
		leases,
		broker,
		cfg.Execution.PollInterval.Duration,
		cfg.Execution.PollJitter.Duration,
		metrics,
		notifier,
		logger.With(slog.String("component", "poller")),
	)
	poll.SetRateLimiter(rateLimiter)

	// --- Supervisor (C10) ---
	sv := supervisor.New(
		pg,
		stream,
		events,
		dec,
		acc,
		executions,
		locks,
		exec,
		poll,
		cfg.Execution.LeaseTTL.Duration,
		notifier,
		logger.With(slog.String("component", "supervisor")),
	)

	// --- Operator HTTP surface ---
	metricsHandler := telemetry.Handler(registry)
	httpServer := server.New(
		server.Config{Port: cfg.Server.Port},
		server.Reporters{Accumulators: accs, Executions: executions, Metrics: metricsHandler},
		logger.With(slog.String("component", "server")),
	)

	return &Dependencies{
		Supervisor:  sv,
		Server:      httpServer,
		Subscriber:  stream,
		Archiver:    archiver,
		ArchiveCron: cfg.S3.ArchiveCron,
	}, cleanup, nil
}

// wireTokenMap converts the operator-supplied TOML token table into the
// address-keyed map chainfeed.StaticChainReader expects.
func wireTokenMap(entries []config.TokenMapping) (map[common.Address]chainfeed.TokenInfo, error) {
	out := make(map[common.Address]chainfeed.TokenInfo, len(entries))
	for _, e := range entries {
		if e.Address == "" || e.Symbol == "" {
			return nil, fmt.Errorf("token mapping requires address and symbol, got %+v", e)
		}
		out[common.HexToAddress(e.Address)] = chainfeed.TokenInfo{Symbol: e.Symbol, Decimals: e.Decimals}
	}
	return out, nil
}

// wireBroker selects and constructs the broker adapter per cfg.Broker.Kind.
// pool is only touched when kind is "real"; the simulated broker never
// persists or reads OAuth2 token material.
func wireBroker(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (domain.Broker, error) {
	switch strings.ToLower(cfg.Broker.Kind) {
	case "simulated":
		return simulated.New(logger.With(slog.String("component", "broker.simulated")), 10000), nil
	case "real":
		cipher, err := crypto.NewTokenCipher(cfg.Broker.TokenKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("wire: broker token cipher: %w", err)
		}
		credentials := postgres.NewCredentialStore(pool, cipher)

		oauthCfg := oauth2.Config{
			ClientID:     cfg.Broker.ClientID,
			ClientSecret: cfg.Broker.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Broker.AuthURL,
				TokenURL: cfg.Broker.TokenURL,
			},
		}
		tokens := real.NewCredentialTokenSource(credentials, cfg.Broker.AccountIndex)
		return real.New(real.Config{
			BaseURL:     cfg.Broker.BaseURL,
			AccountHash: cfg.Broker.AccountHash,
			HTTPTimeout: cfg.Broker.HTTPTimeout.Duration,
		}, oauthCfg, tokens), nil
	default:
		return nil, fmt.Errorf("wire: unknown broker.kind %q", cfg.Broker.Kind)
	}
}
