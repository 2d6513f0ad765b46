package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	authapp "credits-ledger/internal/application/auth"
	redemptionapp "credits-ledger/internal/application/code_redemption"
	compensationapp "credits-ledger/internal/application/compensation"
	creditsapp "credits-ledger/internal/application/credits"
	generationapp "credits-ledger/internal/application/generation"
	historyapp "credits-ledger/internal/application/history"
	"credits-ledger/internal/application/ledger_events"
	"credits-ledger/internal/domain/redeem_code"
	"credits-ledger/internal/domain/service"
	"credits-ledger/internal/infrastructure/config"
	"credits-ledger/internal/infrastructure/messaging/kafka"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/infrastructure/persistence/mysql"
	"credits-ledger/internal/infrastructure/tokencache"
	grpcserver "credits-ledger/internal/presentation/grpc"
	"credits-ledger/internal/presentation/rest"
)

const serviceName = "credits-ledger"

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// OpenTelemetryの初期化
	tracerShutdown, err := otelinfra.InitTracer(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	meterShutdown, err := otelinfra.InitMeter(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize meter: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown meter: %v", err)
		}
	}()

	// ロガーとメトリクスの初期化
	logger := otelinfra.NewLogger(otelinfra.Tracer(serviceName), otelinfra.WithLevel(cfg.LogLevel))
	metrics, err := otelinfra.NewMetrics(serviceName)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// データベース接続の初期化
	db, err := mysql.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := mysql.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// リポジトリの初期化
	accountRepo := mysql.NewAccountRepository(db)
	transactionRepo := mysql.NewTransactionRepository(db)
	redeemCodeRepo := mysql.NewRedeemCodeRepository(db)
	compensationRepo := mysql.NewCompensationRepository(db)
	txManager := mysql.NewTransactionManager(db)
	debiter := mysql.NewAtomicDebiter(db)

	// ドメインサービスの初期化
	balanceService := service.NewBalanceService(accountRepo, transactionRepo)

	// アプリケーションサービスの初期化
	creditsService := creditsapp.NewCreditsApplicationService(
		accountRepo,
		transactionRepo,
		txManager,
		debiter,
		balanceService,
		logger,
		metrics,
	)

	compensationService := compensationapp.NewCompensationApplicationService(
		compensationRepo,
		creditsService,
		logger,
		metrics,
		cfg.Compensation.BatchSize,
		cfg.Compensation.MaxRetries,
	)

	redemptionService := redemptionapp.NewCodeRedemptionApplicationService(
		redeemCodeRepo,
		accountRepo,
		txManager,
		balanceService,
		redeem_code.NewRandomCodeGenerator(),
		logger,
		metrics,
	)

	generationService := generationapp.NewGenerationApplicationService(
		creditsService,
		compensationService,
		providers(cfg),
		cfg.Generation.ProviderTimeout,
		logger,
	)

	historyService := historyapp.NewHistoryApplicationService(transactionRepo, logger)

	cache, closeCache, err := newTokenCache(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize token cache: %v", err)
	}
	defer closeCache()
	authService := authapp.NewAuthApplicationService(&cfg.JWT, &cfg.TokenCache, cache, logger)

	// バックグラウンドジョブ
	compensationJob := compensationapp.NewCompensationJob(compensationService, logger, cfg.Compensation.Interval)
	go compensationJob.Start(ctx)
	defer compensationJob.Stop()

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka)
		if err != nil {
			log.Fatalf("Failed to create kafka producer: %v", err)
		}
		defer producer.Close()

		relay := ledger_events.NewLedgerEventRelay(
			transactionRepo,
			mysql.NewRelayCursorRepository(db),
			producer,
			logger,
			metrics,
			ledger_events.RelayOptions{
				Interval:    cfg.Kafka.RelayInterval,
				BatchSize:   cfg.Kafka.BatchSize,
				SettleDelay: cfg.Kafka.SettleDelay,
				GapTimeout:  cfg.Kafka.GapTimeout,
			},
		)
		go relay.Start(ctx)
		defer relay.Stop()
	}

	// REST APIルーターの初期化
	router, err := rest.NewRouter(cfg, logger, metrics, db, &rest.Services{
		Auth:         authService,
		Credits:      creditsService,
		Generation:   generationService,
		Redemption:   redemptionService,
		History:      historyService,
		Compensation: compensationService,
	})
	if err != nil {
		log.Fatalf("Failed to create router: %v", err)
	}

	// gRPCサーバーの初期化
	grpcSrv, err := grpcserver.NewServer(cfg, logger, creditsService, redemptionService)
	if err != nil {
		log.Fatalf("Failed to create gRPC server: %v", err)
	}

	address := fmt.Sprintf(":%d", cfg.Server.Port)

	go func() {
		logger.Info(ctx, "REST API server starting", map[string]interface{}{"address": address})
		if err := router.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "REST API server error", err, nil)
			stop()
		}
	}()

	go func() {
		if err := grpcSrv.Start(); err != nil {
			logger.Error(ctx, "gRPC server error", err, nil)
			stop()
		}
	}()

	// シグナルを待機
	<-ctx.Done()
	logger.Info(context.Background(), "Shutting down servers", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "Error shutting down REST API server", err, nil)
	}
	if err := grpcSrv.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "Error shutting down gRPC server", err, nil)
	}

	logger.Info(shutdownCtx, "Servers stopped", nil)
}

// newTokenCache Redisが有効ならRedis、そうでなければプロセス内のキャッシュ
func newTokenCache(cfg *config.Config) (tokencache.Cache, func(), error) {
	if !cfg.Redis.Enabled {
		return tokencache.NewMemoryCache(cfg.TokenCache.MaxEntries), func() {}, nil
	}
	client, err := tokencache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return tokencache.NewRedisCache(client, serviceName+":token:"), func() { _ = client.Close() }, nil
}

// providers 登録する生成プロバイダー
// 外部プロバイダーのアダプターは別途登録する。開発環境ではプロンプトを返すだけのテキスト生成を使う
func providers(cfg *config.Config) map[generationapp.Kind]generationapp.Provider {
	registered := map[generationapp.Kind]generationapp.Provider{}
	if cfg.IsDevelopment() {
		registered[generationapp.KindText] = generationapp.ProviderFunc(
			func(ctx context.Context, req *generationapp.ProviderRequest) (*generationapp.ProviderResult, error) {
				return &generationapp.ProviderResult{Output: req.Prompt}, nil
			},
		)
	}
	return registered
}
