package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	redemptionapp "credits-ledger/internal/application/code_redemption"
	creditsapp "credits-ledger/internal/application/credits"
	"credits-ledger/internal/domain/redeem_code"
	"credits-ledger/internal/domain/service"
	"credits-ledger/internal/infrastructure/config"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/infrastructure/persistence/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(openBackend)
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// openBackend 設定を読み込み、MySQLに接続したバックエンドを作成する
func openBackend(ctx context.Context) (*backend, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// CLIのログは標準エラーへ出力する
	logger := otelinfra.NewLogger(otelinfra.Tracer("ledgerctl"),
		otelinfra.WithWriter(os.Stderr),
		otelinfra.WithLevel(cfg.LogLevel),
	)
	metrics, err := otelinfra.NewMetrics("ledgerctl")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	db, err := mysql.NewDB(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	accountRepo := mysql.NewAccountRepository(db)
	transactionRepo := mysql.NewTransactionRepository(db)
	txManager := mysql.NewTransactionManager(db)
	balanceService := service.NewBalanceService(accountRepo, transactionRepo)

	b := &backend{
		migrate: func(ctx context.Context) error {
			return mysql.Migrate(ctx, db)
		},
		credits: creditsapp.NewCreditsApplicationService(
			accountRepo,
			transactionRepo,
			txManager,
			mysql.NewAtomicDebiter(db),
			balanceService,
			logger,
			metrics,
		),
		redemption: redemptionapp.NewCodeRedemptionApplicationService(
			mysql.NewRedeemCodeRepository(db),
			accountRepo,
			txManager,
			balanceService,
			redeem_code.NewRandomCodeGenerator(),
			logger,
			metrics,
		),
	}
	return b, func() { _ = db.Close() }, nil
}

// backend コマンドが使うサービス群
type backend struct {
	migrate    func(ctx context.Context) error
	credits    *creditsapp.CreditsApplicationService
	redemption *redemptionapp.CodeRedemptionApplicationService
}

type backendFactory func(ctx context.Context) (*backend, func(), error)

func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
