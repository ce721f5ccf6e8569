package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hengadev/credhub"
	"github.com/hengadev/credhub/internal/health"
	"github.com/hengadev/credhub/internal/keyring"
	"github.com/hengadev/credhub/internal/monitoring"
	s3audit "github.com/hengadev/credhub/providers/audit/s3"
	"github.com/hengadev/credhub/providers/store/sqlite"
)

// App holds the wired services of one credhub process.
type App struct {
	Config      credhub.Config
	Logger      *slog.Logger
	Versions    *sqlite.Store
	Directory   *credhub.KeyDirectory
	Credentials *credhub.CredentialStore
	Usage       *credhub.KeyUsageService
	Metrics     *monitoring.PrometheusCollector
	Resolver    *keyring.Resolver

	auditS3 *s3audit.Sink
}

// appDeps replaces external collaborators, mainly in tests.
type appDeps struct {
	logOutput     io.Writer
	resolverOpts  []keyring.Option
	auditUploader s3audit.AWSS3Uploader
}

// NewApp opens the store, resolves the configured keys and wires the
// credential services. cfg must already be validated.
func NewApp(ctx context.Context, cfg credhub.Config, deps appDeps) (_ *App, err error) {
	logger, err := monitoring.NewLogger(cfg.Logging, deps.logOutput)
	if err != nil {
		return nil, err
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: monitoring.NewPrometheusCollector(),
	}
	defer func() {
		if err != nil {
			app.Close(context.WithoutCancel(ctx))
		}
	}()

	app.Resolver = newResolver(cfg, logger, deps)
	entries, err := app.Resolver.Resolve(ctx, cfg.Encryption.Keys)
	if err != nil {
		return nil, fmt.Errorf("resolve keys: %w", err)
	}

	audit := credhub.MultiAuditSink{monitoring.NewSlogAuditSink(logger)}
	if cfg.Audit.S3Bucket != "" {
		s3cfg := s3audit.Config{
			Bucket:    cfg.Audit.S3Bucket,
			Prefix:    cfg.Audit.S3Prefix,
			Region:    cfg.Audit.Region,
			FlushSize: cfg.Audit.FlushSize,
		}
		if deps.auditUploader != nil {
			app.auditS3, err = s3audit.NewWithClient(deps.auditUploader, s3cfg, logger)
		} else {
			app.auditS3, err = s3audit.New(ctx, s3cfg, logger)
		}
		if err != nil {
			return nil, err
		}
		audit = append(audit, app.auditS3)
	}

	app.Directory, err = credhub.NewKeyDirectory(entries,
		credhub.WithDirectoryLogger(logger),
		credhub.WithDirectoryAudit(audit))
	if err != nil {
		return nil, err
	}

	app.Versions, err = sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	storeOpts := []credhub.StoreOption{
		credhub.WithLogger(logger),
		credhub.WithAuditSink(audit),
		credhub.WithMetrics(app.Metrics),
		credhub.WithRetryConfig(cfg.Encryption.Retry),
	}
	if cfg.Encryption.Argon2 != nil {
		storeOpts = append(storeOpts, credhub.WithArgon2Params(cfg.Encryption.Argon2))
	}
	encryption := credhub.NewEncryptionService(app.Directory, credhub.WithEncryptionMetrics(app.Metrics))
	app.Credentials, err = credhub.NewCredentialStore(app.Versions, encryption, storeOpts...)
	if err != nil {
		return nil, err
	}
	app.Usage = credhub.NewKeyUsageService(app.Versions, app.Directory)

	logger.Debug("credhub ready",
		slog.String("database", cfg.Database.Path),
		slog.String("active_key", app.Directory.ActiveKeyID().String()),
		slog.Int("keys", len(entries)))
	return app, nil
}

func newResolver(cfg credhub.Config, logger *slog.Logger, deps appDeps) *keyring.Resolver {
	opts := []keyring.Option{keyring.WithLogger(logger)}
	if cfg.Encryption.Argon2 != nil {
		opts = append(opts, keyring.WithArgon2Params(cfg.Encryption.Argon2))
	}
	return keyring.New(append(opts, deps.resolverOpts...)...)
}

// Reencryptor returns a re-encryptor bounded by the configured concurrency.
func (a *App) Reencryptor() *credhub.Reencryptor {
	return credhub.NewReencryptor(a.Credentials, a.Usage, credhub.WithConcurrency(a.Config.Encryption.ReencryptConcurrency))
}

// ReloadKeys resolves the keys of cfg and swaps them into the directory,
// unless a dropped key still encrypts stored versions.
func (a *App) ReloadKeys(ctx context.Context, cfg credhub.Config) error {
	entries, err := a.Resolver.Resolve(ctx, cfg.Encryption.Keys)
	if err != nil {
		return fmt.Errorf("resolve keys: %w", err)
	}
	if err := a.Usage.CheckRetirement(ctx, entries); err != nil {
		return err
	}
	if err := a.Directory.Reload(ctx, entries); err != nil {
		return err
	}
	a.Config.Encryption = cfg.Encryption
	return nil
}

// Handler serves /metrics and /healthz.
func (a *App) Handler() http.Handler {
	checker := health.NewChecker(credhub.Version)
	checker.Register(health.DirectoryCheck(a.Directory))
	checker.Register(health.StoreCheck(a.Versions))
	checker.Register(health.UnknownKeysCheck(a.Usage))

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.Handle("/healthz", checker)
	return mux
}

// Close flushes the audit trail and closes the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.auditS3 != nil {
		errs = append(errs, a.auditS3.Close(ctx))
	}
	if a.Versions != nil {
		errs = append(errs, a.Versions.Close())
	}
	return errors.Join(errs...)
}
