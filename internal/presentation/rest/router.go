package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	authapp "credits-ledger/internal/application/auth"
	redemptionapp "credits-ledger/internal/application/code_redemption"
	compensationapp "credits-ledger/internal/application/compensation"
	creditsapp "credits-ledger/internal/application/credits"
	generationapp "credits-ledger/internal/application/generation"
	historyapp "credits-ledger/internal/application/history"
	"credits-ledger/internal/infrastructure/config"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/presentation/rest/handler"
	restmiddleware "credits-ledger/internal/presentation/rest/middleware"
)

const healthCheckTimeout = 2 * time.Second

// Pinger ヘルスチェック対象（*sql.DB など）
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services ルーターが公開するアプリケーションサービス
type Services struct {
	Auth         *authapp.AuthApplicationService
	Credits      *creditsapp.CreditsApplicationService
	Generation   *generationapp.GenerationApplicationService
	Redemption   *redemptionapp.CodeRedemptionApplicationService
	History      *historyapp.HistoryApplicationService
	Compensation *compensationapp.CompensationApplicationService
}

// Router REST APIルーター
type Router struct {
	echo                *echo.Echo
	authHandler         *handler.AuthHandler
	creditsHandler      *handler.CreditsHandler
	generationHandler   *handler.GenerationHandler
	redemptionHandler   *handler.CodeRedemptionHandler
	historyHandler      *handler.HistoryHandler
	compensationHandler *handler.CompensationHandler
}

// NewRouter 新しいRouterを作成
func NewRouter(
	cfg *config.Config,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	db Pinger,
	services *Services,
) (*Router, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout
	// プロキシ配下ではX-Forwarded-Forを信頼する設定に差し替える
	e.IPExtractor = echo.ExtractIPDirect()

	// 通常はエラーハンドリングミドルウェアで処理済み
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if !c.Response().Committed {
			e.DefaultHTTPErrorHandler(err, c)
		}
	}

	// ミドルウェアの設定
	setupMiddleware(e, logger, metrics)

	r := &Router{
		echo:                e,
		authHandler:         handler.NewAuthHandler(services.Auth),
		creditsHandler:      handler.NewCreditsHandler(services.Credits),
		generationHandler:   handler.NewGenerationHandler(services.Generation),
		redemptionHandler:   handler.NewCodeRedemptionHandler(services.Redemption),
		historyHandler:      handler.NewHistoryHandler(services.History),
		compensationHandler: handler.NewCompensationHandler(services.Compensation),
	}

	// ルーティングの設定
	r.setupRoutes(cfg, logger, db)

	// Swagger UI
	SetupSwagger(e)

	return r, nil
}

// setupMiddleware ミドルウェアを設定
func setupMiddleware(e *echo.Echo, logger *otelinfra.Logger, metrics *otelinfra.Metrics) {
	// リカバリーミドルウェア
	e.Use(middleware.Recover())

	// CORS設定
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			restmiddleware.HeaderAPIKey,
		},
	}))

	// リクエストIDの設定
	e.Use(middleware.RequestID())

	e.Use(restmiddleware.SecurityHeadersMiddleware())

	// トレーシングミドルウェア
	e.Use(restmiddleware.TracingMiddleware())

	e.Use(restmiddleware.MetricsMiddleware(metrics))

	// ログミドルウェア
	e.Use(restmiddleware.LoggingMiddleware(logger))

	// エラーハンドリングミドルウェア
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))
}

// setupRoutes ルーティングを設定
func (r *Router) setupRoutes(cfg *config.Config, logger *otelinfra.Logger, db Pinger) {
	e := r.echo

	// ヘルスチェックエンドポイント（認証不要）
	e.GET("/health", func(c echo.Context) error {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				logger.Error(ctx, "Health check failed", err, nil)
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// API v1グループ
	api := e.Group("/api/v1")

	// トークン発行は開発環境のみ
	if cfg.IsDevelopment() {
		api.POST("/auth/token", r.authHandler.GenerateToken)
	}

	// 認証が必要なエンドポイント
	authGroup := api.Group("", restmiddleware.AuthMiddleware(&cfg.JWT, logger))

	// 残高・消費
	authGroup.GET("/users/:user_id/balance", r.creditsHandler.GetBalance)
	authGroup.POST("/users/:user_id/consume", r.creditsHandler.Consume)
	authGroup.POST("/users/:user_id/generations", r.generationHandler.Generate)

	// 履歴関連エンドポイント
	authGroup.GET("/users/:user_id/transactions", r.historyHandler.GetTransactionHistory)

	// コード引き換えエンドポイント
	authGroup.POST("/codes/validate", r.redemptionHandler.ValidateCode)
	authGroup.POST("/codes/redeem", r.redemptionHandler.RedeemCode)

	if !cfg.AdminAPI.Enabled {
		return
	}

	// 管理API（X-API-Key）
	admin := api.Group("/admin", restmiddleware.APIKeyMiddleware(&cfg.AdminAPI, logger))
	admin.POST("/codes", r.redemptionHandler.GenerateCodes)
	admin.GET("/codes", r.redemptionHandler.ListCodes)
	admin.GET("/codes/statistics", r.redemptionHandler.Statistics)
	admin.POST("/codes/:code/disable", r.redemptionHandler.DisableCode)
	admin.POST("/users/:user_id/refund", r.creditsHandler.Refund)
	admin.POST("/users/:user_id/reconcile", r.creditsHandler.RecomputeBalance)
	admin.POST("/reconcile", r.creditsHandler.ReconcileAll)
	admin.GET("/compensations", r.compensationHandler.List)
}

// Start サーバーを起動
func (r *Router) Start(address string) error {
	return r.echo.Start(address)
}

// Shutdown 処理中のリクエストを待ってサーバーを停止
func (r *Router) Shutdown(ctx context.Context) error {
	return r.echo.Shutdown(ctx)
}
