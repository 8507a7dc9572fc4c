package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/memberproof/internal/auth"
	"github.com/hitoshi/memberproof/internal/config"
	"github.com/hitoshi/memberproof/internal/database"
	"github.com/hitoshi/memberproof/internal/handler"
	"github.com/hitoshi/memberproof/internal/logger"
	"github.com/hitoshi/memberproof/internal/metrics"
	"github.com/hitoshi/memberproof/internal/middleware"
	"github.com/hitoshi/memberproof/internal/proof"
	"github.com/hitoshi/memberproof/internal/repository"
	"github.com/hitoshi/memberproof/internal/roster"
	"github.com/hitoshi/memberproof/internal/security"
	"github.com/hitoshi/memberproof/internal/session"
	"github.com/hitoshi/memberproof/internal/token"
	"github.com/hitoshi/memberproof/internal/verify"
	"github.com/hitoshi/memberproof/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// oidcDiscoveryTimeout は起動時のOIDCディスカバリーのタイムアウト。
const oidcDiscoveryTimeout = 15 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、serveコマンド用の設定を環境変数から読み込む。
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

// initDatabaseOnly はDB接続のみを必要とするコマンド用の初期化を行う。
func initDatabaseOnly(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w)

	cfg, err := config.LoadDatabase()
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

	if cmd == CommandServe {
		cfg, err := Init(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		slog.Info("starting application",
			slog.String("command", string(cmd)),
			slog.String("port", cfg.ServerPort),
			slog.String("base_url", cfg.BaseURL),
			slog.String("session_store", cfg.SessionStore),
		)
		return runServe(cfg)
	}

	// import-roster のフラグはDB接続前に検証する
	var rosterOpts ImportRosterOptions
	if cmd == CommandImportRoster {
		opts, err := ParseImportRosterFlags(args[1:])
		if err != nil {
			return err
		}
		rosterOpts = opts
	}

	cfg, err := initDatabaseOnly(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	slog.Info("starting application", slog.String("command", string(cmd)))

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandImportRoster:
		return runImportRoster(cfg, rosterOpts)
	default:
		return fmt.Errorf("unsupported command %q", cmd)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// sessionBackend は選択されたセッションストアとその付随リソース。
type sessionBackend struct {
	repo   repository.SessionRepository
	checks []handler.HealthCheck
	close  func() error
}

// newSessionBackend は設定に応じてPostgresまたはRedisのセッションストアを構築する。
func newSessionBackend(cfg *config.Config, db *sql.DB) (*sessionBackend, error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return &sessionBackend{
			repo:  repository.NewPostgresSessionRepo(db),
			close: func() error { return nil },
		}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	store := session.NewRedisStore(client, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis session store connected", slog.String("addr", opts.Addr))
	return &sessionBackend{
		repo:   store,
		checks: []handler.HealthCheck{{Name: "redis", Check: store.Ping}},
		close:  client.Close,
	}, nil
}

// runServe はHTTPサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続とセッションストア
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	schema, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if err := checkSchema(schema); err != nil {
		return err
	}
	slog.Info("database schema is ready", slog.Uint64("schema_version", uint64(schema.Version)))

	sessions, err := newSessionBackend(cfg, db)
	if err != nil {
		return err
	}
	defer sessions.close()

	userRepo := repository.NewPostgresUserRepo(db)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. OIDCプロバイダー（起動時にディスカバリーを取得）
	discoveryCtx, cancel := context.WithTimeout(context.Background(), oidcDiscoveryTimeout)
	oidcProvider, err := auth.NewOIDCProvider(discoveryCtx, auth.OIDCConfig{
		DiscoveryURL: cfg.OIDCDiscoveryURL,
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		RedirectURL:  cfg.OIDCRedirectURL,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("failed to initialize oidc provider: %w", err)
	}

	// 4. ドメインサービス
	authService := auth.NewService(
		oidcProvider, userRepo, sessions.repo, security.NewNameSanitizer(),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAgeDuration()},
	)

	codec, err := token.NewCodec(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}
	renderer, err := proof.NewRenderer(cfg.VerifyBaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize qr renderer: %w", err)
	}
	verifyService := verify.NewService(codec, userRepo, collector)

	// 5. レートリミッター
	verifyLimiter := middleware.NewRateLimiter("verify", middleware.PerMinute(cfg.RateLimitVerify))
	defer verifyLimiter.Stop()
	qrLimiter := middleware.NewRateLimiter("qr_code", middleware.PerMinute(cfg.RateLimitQRCode))
	defer qrLimiter.Stop()

	// 6. ルーターの構築
	healthChecks := append([]handler.HealthCheck{{Name: "database", Check: db.PingContext}}, sessions.checks...)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        slog.Default(),
		HSTS:          cfg.CookieSecure,
		SessionFinder: sessions.repo,
		AuthService:   authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		Membership:    authService,
		TokenIssuer:   codec,
		QRRenderer:    renderer,
		VerifyService: verifyService,
		JoinFormURL:   cfg.JoinFormURL,
		VerifyLimiter: verifyLimiter,
		QRCodeLimiter: qrLimiter,
		Metrics:       collector,
		Gatherer:      registry,
		HealthChecks:  healthChecks,
	})

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

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", server.Addr),
			slog.String("verify_url", cfg.VerifyBaseURL),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down HTTP server...")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// Postgresの期限切れセッションを定期的に削除する。Redisはキーの期限切れで消えるため何もしない。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.SessionStore == config.SessionStoreRedis {
		slog.Info("redis session store expires keys itself; worker has nothing to do")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	job := cleanup.NewSessionCleanupJob(db, slog.Default(), cfg.SessionCleanupInterval)
	slog.Info("worker starting", slog.Duration("cleanup_interval", job.Interval))

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// checkSchema は未適用やdirtyなスキーマでのサーバー起動を拒否する。
func checkSchema(v database.SchemaVersion) error {
	if !v.Applied {
		return fmt.Errorf("database schema is not migrated; run %q first", CommandMigrate)
	}
	if v.Dirty {
		return fmt.Errorf("schema version %d is dirty; fix it manually before continuing", v.Version)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if err := checkSchema(version); err != nil {
		return err
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version.Version)),
	)
	return nil
}

// runImportRoster は名簿ファイルを読み込み、既存ユーザーを会員にする。
// ストアに存在しないユーザー名はスキップされ、件数が報告される。
func runImportRoster(cfg *config.Config, opts ImportRosterOptions) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	importer := roster.NewImporter(repository.NewPostgresUserRepo(db), metrics.NewCollector(registry))

	result, err := importer.ImportFile(context.Background(), opts.File)
	if err != nil {
		return fmt.Errorf("roster import failed: %w", err)
	}

	fmt.Fprintf(os.Stdout, "marked %d member(s), skipped %d unknown username(s)\n", result.Marked, len(result.Skipped))
	for _, u := range result.Skipped {
		fmt.Fprintf(os.Stdout, "  skipped: %s\n", u)
	}

	if opts.MetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsTextfile, registry); err != nil {
			return fmt.Errorf("failed to write metrics textfile: %w", err)
		}
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
