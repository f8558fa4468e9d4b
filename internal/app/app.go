// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/openbare/internal/account"
	"github.com/hitoshi/openbare/internal/cloud"
	"github.com/hitoshi/openbare/internal/config"
	"github.com/hitoshi/openbare/internal/database"
	"github.com/hitoshi/openbare/internal/handler"
	"github.com/hitoshi/openbare/internal/library"
	"github.com/hitoshi/openbare/internal/logger"
	"github.com/hitoshi/openbare/internal/mailer"
	"github.com/hitoshi/openbare/internal/metrics"
	"github.com/hitoshi/openbare/internal/middleware"
	"github.com/hitoshi/openbare/internal/model"
	"github.com/hitoshi/openbare/internal/reaper"
	"github.com/hitoshi/openbare/internal/repository"
	"github.com/hitoshi/openbare/internal/worker"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// registerKinds は設定から貸出リソース種別を組み立てて登録する。
func registerKinds(cfg *config.Config) {
	model.RegisterKind(&model.LendableKind{
		Key:               "demo-account",
		Name:              "AWSデモアカウント",
		Description:       "検証・デモ用のAWS IAMアカウント。期限が来るとアカウントと作成されたリソースは自動的に削除される。",
		MaxCheckedOut:     cfg.MaxCheckedOut,
		LendingPeriodDays: cfg.LendingPeriodDays,
		MaxRenewals:       cfg.MaxRenewals,
		Groups:            cfg.IAMGroups,
		NormalizeUsername: account.NormalizeASCII,
		ValidateUsername:  account.ValidateIAMUsername,
	})
}

// newCloudClients はクラウドAPIクライアントを組み立てる。
// 現状はインメモリ実装のみで、実SDKクライアントへの差し替え点となる。
func newCloudClients() (cloud.IAMClient, cloud.ComputeClient, cloud.TrailClient) {
	fake := cloud.NewFake()
	return fake, fake, fake
}

// newMailSender は通知メール送信の実装を選択する。
// SMTPが未設定の環境ではログ出力にフォールバックする。
func newMailSender(cfg *config.Config) mailer.Sender {
	if cfg.SMTPAddr != "" {
		return mailer.NewSMTPSender(cfg.SMTPAddr)
	}
	slog.Warn("SMTP_ADDRが未設定のため、メールはログに出力されます")
	return mailer.NewLogSender(slog.Default())
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 貸出種別の登録
	registerKinds(cfg)

	// 3. リポジトリの初期化
	lendableRepo := repository.NewPostgresLendableRepo(db)
	resourceRepo := repository.NewPostgresResourceRepo(db)

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. クラウドクライアントとドメインサービスの初期化
	iam, compute, _ := newCloudClients()
	provisioner := account.NewProvisioner(iam, cfg.AWSAccountAlias, slog.Default())
	resourceReaper := reaper.NewReaper(resourceRepo, compute, collector, slog.Default())

	libraryService := library.NewService(
		lendableRepo, provisioner, resourceReaper, collector, slog.Default(),
		library.ServiceConfig{
			CheckinForceReturn: cfg.CheckinForceReturn,
			CloudTimeout:       cfg.CloudTimeout,
		},
	)

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral)),

		LoanService: libraryService,
		LoanFinder:  lendableRepo,
		Resources:   resourceRepo,
		LoanConfig: handler.LoanHandlerConfig{
			MailFrom:    cfg.MailFrom,
			AdminEmails: cfg.AdminEmails,
		},

		KindService: libraryService,
		MailSender:  newMailSender(cfg),

		MetricsHandler:     metrics.Handler(registry),
		HealthcheckHandler: newHealthHandler(db),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// イベントコレクタと期限モニタを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. 貸出種別の登録
	registerKinds(cfg)

	// 3. リポジトリの初期化
	lendableRepo := repository.NewPostgresLendableRepo(db)
	resourceRepo := repository.NewPostgresResourceRepo(db)
	watermarkRepo := repository.NewPostgresWatermarkRepo(db)

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. クラウドクライアントとドメインサービスの初期化
	iam, compute, trail := newCloudClients()
	provisioner := account.NewProvisioner(iam, cfg.AWSAccountAlias, slog.Default())
	resourceReaper := reaper.NewReaper(resourceRepo, compute, collector, slog.Default())

	libraryService := library.NewService(
		lendableRepo, provisioner, resourceReaper, collector, slog.Default(),
		library.ServiceConfig{
			CheckinForceReturn: cfg.CheckinForceReturn,
			CloudTimeout:       cfg.CloudTimeout,
		},
	)

	// 6. ワーカーの初期化
	eventCollector := worker.NewCollector(
		lendableRepo, resourceRepo, watermarkRepo, trail, collector, slog.Default(),
		worker.CollectorConfig{
			Regions:    cfg.CollectRegions,
			Interval:   cfg.CollectInterval,
			Overlap:    cfg.CollectOverlap,
			Backfill:   cfg.CollectBackfill,
			PageSize:   cfg.CollectPageSize,
			MaxPages:   cfg.CollectMaxPages,
			RatePerSec: cfg.CollectRatePerSec,
		},
	)

	monitor := worker.NewMonitor(
		lendableRepo, libraryService, newMailSender(cfg), collector, slog.Default(),
		worker.MonitorConfig{
			Interval:    cfg.MonitorInterval,
			WarningDays: cfg.WarningDays,
			MailFrom:    cfg.MailFrom,
		},
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("collect_interval", cfg.CollectInterval),
		slog.Duration("monitor_interval", cfg.MonitorInterval),
	)

	// イベントコレクタをバックグラウンドで起動
	go eventCollector.Start(ctx)

	// 期限モニタをメインgoroutineで実行（ブロッキング）
	monitor.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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

// newHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(db *sql.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
