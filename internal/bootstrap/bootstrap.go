// Package bootstrap provides dependency initialization for the clipvault API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/capture"
	"github.com/maauso/clipvault-api/internal/clip"
	"github.com/maauso/clipvault-api/internal/config"
	"github.com/maauso/clipvault-api/internal/helix"
	"github.com/maauso/clipvault-api/internal/ingest"
	"github.com/maauso/clipvault-api/internal/lifecycle"
	"github.com/maauso/clipvault-api/internal/media"
	"github.com/maauso/clipvault-api/internal/mongostore"
	"github.com/maauso/clipvault-api/internal/poller"
	"github.com/maauso/clipvault-api/internal/server"
	"github.com/maauso/clipvault-api/internal/storage"
	"github.com/maauso/clipvault-api/internal/stream"
	"github.com/maauso/clipvault-api/internal/upstream"
	"github.com/maauso/clipvault-api/internal/worker"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Services server.Services
	Pipeline *ingest.Pipeline
	Sweeper  *lifecycle.Sweeper

	closers []func(context.Context) error
}

// Close releases database connections.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	clips, users, err := deps.initStores(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}
	ledger, orphans, err := deps.initQueues(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}
	staging, err := initStaging(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}

	up := upstream.NewClient(upstream.WithLogger(logger))

	// Identity provider and credential authority
	identity, err := auth.NewIdentityClient(cfg.TwitchClientID, cfg.TwitchClientSecret, auth.WithIdentityURL(cfg.TwitchIdentityURL))
	if err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("create identity client: %w", err)
	}
	authority := auth.NewAuthority(identity, users, logger)
	sessions, err := auth.NewSessionIssuer(cfg.JWTSecret)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("create session issuer: %w", err)
	}

	// Storage provider
	provider, err := stream.NewClient(cfg.StreamAccountID, upstream.NewStaticSource(cfg.StreamAPIToken),
		stream.WithBaseURL(cfg.StreamBaseURL),
		stream.WithUpstream(up),
		stream.WithLogger(logger),
	)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("create stream client: %w", err)
	}

	// Extraction worker
	workerClient, err := worker.NewClient(cfg.WorkerURL)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("create worker client: %w", err)
	}

	locks := clip.NewKeyedMutex()
	ingestDeps := ingest.Deps{
		Clips:   clips,
		Locks:   locks,
		Worker:  workerClient,
		Poller:  poller.New(workerClient, logger),
		Stream:  provider,
		Staging: staging,
		Ledger:  ledger,
		Orphans: orphans,
	}
	if probe := media.NewFFprobe(cfg.FFprobePath); probe.Available() {
		ingestDeps.Prober = probe
	} else {
		logger.Warn("ffprobe not found; durations come from the worker only",
			slog.String("path", cfg.FFprobePath),
		)
	}
	deps.Pipeline = ingest.NewPipeline(ingestDeps, logger,
		ingest.WithPollInterval(cfg.PollInterval),
		ingest.WithMaxWait(cfg.IngestMaxWait),
		ingest.WithAllowedChannels(cfg.AllowedChannelIDs...),
	)

	deps.Sweeper = lifecycle.NewSweeper(orphans, provider, logger,
		lifecycle.WithSweepInterval(cfg.OrphanSweepInterval),
		lifecycle.WithMaxAttempts(cfg.OrphanMaxAttempts),
	)

	deps.Services = server.Services{
		Clips:     clips,
		Importer:  deps.Pipeline,
		Trimmer:   lifecycle.NewTrimmer(clips, locks, provider, orphans, logger),
		Deleter:   lifecycle.NewReconciler(clips, locks, provider, orphans, logger),
		Editor:    lifecycle.NewEditor(clips, locks, logger),
		Downloads: provider,
		Sessions:  sessions,
		Users:     users,
	}

	if cfg.CaptureEnabled() {
		capturer, err := capture.NewService(cfg.CaptureWorkerURL, up, capture.UserSources(authority),
			clips, locks, orphans, logger)
		if err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("create capture service: %w", err)
		}
		deps.Services.Capturer = capturer
	}

	if cfg.StatusEnabled() {
		helixClient, err := helix.NewClient(cfg.TwitchClientID, helix.WithBaseURL(cfg.TwitchHelixURL), helix.WithUpstream(up))
		if err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("create helix client: %w", err)
		}
		deps.Services.Status = helix.NewStatusService(helixClient,
			authority.ForUser(cfg.TwitchDeveloperID),
			authority.ForService(),
			cfg.TwitchBroadcasterID,
			logger,
		)
	}

	return deps, nil
}

// initStores returns the MongoDB stores when configured, in-memory ones otherwise.
func (d *Dependencies) initStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (clip.Store, auth.UserStore, error) {
	if !cfg.MongoEnabled() {
		logger.Warn("MONGO_URI not set; clip records and users are kept in memory")
		return clip.NewMemoryStore(), auth.NewMemoryUserStore(), nil
	}

	client, err := mongostore.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	d.closers = append(d.closers, func(ctx context.Context) error { return client.Disconnect(ctx) })

	store := mongostore.New(client.Database(cfg.MongoDB))
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, nil, err
	}
	logger.Info("MongoDB store configured", slog.String("database", cfg.MongoDB))
	return store, store, nil
}

// initQueues returns the Redis-backed ledger and orphan queue when configured.
func (d *Dependencies) initQueues(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ingest.Ledger, lifecycle.OrphanQueue, error) {
	if !cfg.RedisEnabled() {
		logger.Warn("REDIS_URL not set; ingestion attempts and orphaned assets are lost on restart")
		return ingest.NewMemoryLedger(), lifecycle.NewMemoryOrphanQueue(), nil
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := goredis.NewClient(opts)
	d.closers = append(d.closers, func(context.Context) error { return client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("Redis ledger configured", slog.String("addr", opts.Addr))
	return ingest.NewRedisLedger(client), lifecycle.NewRedisOrphanQueue(client), nil
}

// initStaging creates the staging backend the worker writes into.
func initStaging(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Staging, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Staging, err := storage.NewS3Staging(ctx, cfg.StagingDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 staging: %w", err)
		}
		logger.Info("S3 staging configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Staging, nil
	}

	local, err := storage.NewLocalStaging(cfg.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("create local staging: %w", err)
	}
	logger.Info("local staging configured",
		slog.String("staging_dir", local.Dir()),
	)
	return local, nil
}
