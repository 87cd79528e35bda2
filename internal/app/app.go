package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/adsync/internal/config"
	"github.com/hitoshi/adsync/internal/database"
	"github.com/hitoshi/adsync/internal/gogs"
	"github.com/hitoshi/adsync/internal/handler"
	"github.com/hitoshi/adsync/internal/logger"
	"github.com/hitoshi/adsync/internal/metrics"
	"github.com/hitoshi/adsync/internal/worker/cleanup"
	"github.com/hitoshi/adsync/internal/worker/runloop"
)

// cleanupInterval は同期履歴クリーンアップの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. envファイルで指定されたログレベルを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(os.Getenv("STATUS_ADDR"))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.Bool("dry_run", cfg.IsDryRun),
		slog.Int("mappings", len(cfg.GroupMappings)),
	)

	// SIGINTまたはSIGTERMシグナルでキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandOnce:
		return runOnce(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandToken:
		return runToken(ctx, cfg, os.Stdout)
	default:
		return runWorker(ctx, cfg)
	}
}

// runWorker は同期ループを常駐させる。
// コンテキストがキャンセルされると実行中のパスを中断し、ループとステータスサーバーを停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	svc, err := newServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	loop := runloop.NewService(svc.job, runloop.Config{
		Interval:         cfg.SyncInterval,
		MinimumTimeOfDay: cfg.MinimumTimeOfDay,
		MaximumTimeOfDay: cfg.MaximumTimeOfDay,
	}, log)

	// ステータスサーバーの起動（STATUS_ADDR指定時のみ）
	var server *http.Server
	if cfg.StatusAddr != "" {
		deps := &handler.RouterDeps{
			Logger:         log,
			Loop:           loop,
			LastRun:        svc.job,
			MetricsHandler: metrics.SetupMetricsRoute(svc.registry),
			Config: handler.StatusHandlerConfig{
				DryRun:           cfg.IsDryRun,
				MinimumTimeOfDay: cfg.MinimumTimeOfDay,
				MaximumTimeOfDay: cfg.MaximumTimeOfDay,
			},
		}
		if svc.db != nil {
			deps.HealthChecker = svc.db
			deps.History = svc.runs
		}

		server = &http.Server{
			Addr:         cfg.StatusAddr,
			Handler:      handler.NewRouter(deps),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info("status server starting", slog.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server listen error", slog.String("error", err.Error()))
			}
		}()
	}

	// 同期履歴のクリーンアップジョブを日次でバックグラウンド実行
	if svc.db != nil {
		cleanupJob := cleanup.NewCleanupJob(svc.db, cfg.HistoryRetentionDays, log)
		go cleanupJob.Start(ctx, cleanupInterval)
	}

	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync loop: %w", err)
	}
	log.Info("worker started",
		slog.Duration("interval", loop.Interval()),
		slog.Int("mappings", len(cfg.GroupMappings)),
	)

	<-ctx.Done()
	log.Info("shutting down worker...")
	loop.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	log.Info("worker stopped gracefully")
	return nil
}

// runOnce は同期パスを1回だけ実行する。
// 時刻ウィンドウは考慮しない。
func runOnce(ctx context.Context, cfg *config.Config) error {
	svc, err := newServices(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.job.RunOnce(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

// runMigrate は同期履歴データベースのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if !cfg.HasHistory() {
		return errors.New("DATABASE_URL is not set")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runToken は管理者ユーザーのアクセストークンを取得し、無ければ発行する。
// 取得したトークンの名前とSHA1をoutに出力する。
func runToken(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.GogsUsername == "" || cfg.GogsPassword == "" {
		return errors.New("GOGS_USERNAME and GOGS_PASSWORD are required to manage access tokens")
	}

	client := newGogsClient(cfg, nil, slog.Default())
	generator := gogs.NewTokenGenerator(client, cfg.GogsUsername, cfg.IsDryRun, slog.Default())
	tokens, err := generator.CreateOrGetAccessTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access tokens: %w", err)
	}
	if len(tokens) == 0 {
		fmt.Fprintln(out, "no access tokens (dry run)")
		return nil
	}
	for _, token := range tokens {
		fmt.Fprintf(out, "%s\t%s\n", token.Name, token.Sha1)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// ステータスサーバーの /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(addr string) error {
	if addr == "" {
		return errors.New("STATUS_ADDR is not set")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid STATUS_ADDR %q: %w", addr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	url := fmt.Sprintf("http://%s/health", net.JoinHostPort(host, port))
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
