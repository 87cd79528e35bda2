package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/adsync/internal/config"
	"github.com/hitoshi/adsync/internal/database"
	"github.com/hitoshi/adsync/internal/directory"
	"github.com/hitoshi/adsync/internal/gogs"
	"github.com/hitoshi/adsync/internal/metrics"
	"github.com/hitoshi/adsync/internal/reconcile"
	"github.com/hitoshi/adsync/internal/repository"
	"github.com/hitoshi/adsync/internal/worker/syncjob"
)

// services は同期処理に必要な依存関係をまとめた構造体。
// DATABASE_URLが未設定の場合、dbとrunsはnil。
type services struct {
	db        *sql.DB
	runs      repository.SyncRunRepository
	registry  *prometheus.Registry
	collector *metrics.Collector
	gogs      *gogs.Client
	directory *directory.Client
	job       *syncjob.Job
}

// Close はデータベース接続を閉じる。
func (s *services) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// newDirectoryClient は設定からLDAPクライアントを生成する。
func newDirectoryClient(cfg *config.Config, logger *slog.Logger) *directory.Client {
	return directory.NewClient(directory.Config{
		URL:                cfg.LDAPURL,
		BindDN:             cfg.LDAPBindDN,
		BindPassword:       cfg.LDAPBindPassword,
		BaseDN:             cfg.LDAPBaseDN,
		GroupBaseDN:        cfg.LDAPGroupBaseDN,
		PageSize:           uint32(max(cfg.LDAPPageSize, 0)),
		Timeout:            cfg.LDAPTimeout,
		StartTLS:           cfg.LDAPStartTLS,
		InsecureSkipVerify: cfg.LDAPInsecureSkipVerify,
		ExcludeDisabled:    cfg.LDAPExcludeDisabled,
	}, logger)
}

// newGogsClient は設定からGogs APIクライアントを生成する。
// recorderがnilの場合はHTTPステータスを記録しない。
func newGogsClient(cfg *config.Config, recorder gogs.StatusRecorder, logger *slog.Logger) *gogs.Client {
	return gogs.NewClient(
		&http.Client{Timeout: cfg.GogsTimeout},
		gogs.Config{
			BaseURL:           cfg.GogsAPIURL,
			AccessToken:       cfg.GogsAccessToken,
			AdminUsername:     cfg.GogsUsername,
			AdminPassword:     cfg.GogsPassword,
			RequestsPerSecond: cfg.GogsRequestsPerSecond,
			MaxRetries:        uint(max(cfg.GogsMaxRetries, 0)),
			Metrics:           recorder,
		},
		logger,
	)
}

// bootstrapToken はアクセストークン自動発行が有効な場合にトークンを取得してクライアントに設定する。
func bootstrapToken(ctx context.Context, cfg *config.Config, client *gogs.Client, logger *slog.Logger) error {
	if !cfg.EnableGogsAccessTokenGeneration || client.HasAccessToken() {
		return nil
	}
	generator := gogs.NewTokenGenerator(client, cfg.GogsUsername, cfg.IsDryRun, logger)
	configured, err := gogs.Bootstrap(ctx, client, generator)
	if err != nil {
		return fmt.Errorf("failed to bootstrap gogs access token: %w", err)
	}
	if configured {
		logger.Info("Gogsアクセストークンを設定しました", slog.String("username", cfg.GogsUsername))
	}
	return nil
}

// openHistory は同期履歴データベースに接続し、マイグレーションを適用する。
func openHistory(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newServices は設定から同期処理の依存関係を構築する。
func newServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	s := &services{registry: prometheus.NewRegistry()}
	s.collector = metrics.NewCollector(s.registry)

	if cfg.HasHistory() {
		db, err := openHistory(cfg, logger)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.runs = repository.NewPostgresSyncRunRepo(db)
	}

	s.gogs = newGogsClient(cfg, s.collector, logger)
	if err := bootstrapToken(ctx, cfg, s.gogs, logger); err != nil {
		s.Close()
		return nil, err
	}

	s.directory = newDirectoryClient(cfg, logger)
	if err := s.directory.Ping(ctx); err != nil {
		logger.Warn("ディレクトリサーバーへの接続確認に失敗しました",
			slog.String("url", cfg.LDAPURL),
			slog.String("error", err.Error()),
		)
	}

	synchronizer := reconcile.NewSynchronizer(s.directory, s.gogs, reconcile.Options{
		Mappings:               cfg.GroupMappings,
		ExcludedUsernames:      cfg.ExcludedUsernames,
		RequiredDirectoryGroup: cfg.RequiredDirectoryGroup,
		AdminUsername:          cfg.GogsUsername,
		LDAPSourceID:           cfg.GogsLDAPSourceID,
		DryRun:                 cfg.IsDryRun,
		EnableOrgCreation:      cfg.EnableOrgCreation,
		EnableTeamCreation:     cfg.EnableTeamCreation,
		EnableUserCreation:     cfg.EnableUserCreation,
	}, logger)

	s.job = syncjob.NewJob(synchronizer, s.runs, s.collector, cfg.IsDryRun, logger)

	return s, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
