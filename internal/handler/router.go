package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/openbare/internal/mailer"
	"github.com/hitoshi/openbare/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// 貸出
	LoanService LoanServiceInterface
	LoanFinder  LoanFinder
	Resources   ResourceLister
	LoanConfig  LoanHandlerConfig

	// 種別カタログ
	KindService KindServiceInterface

	// 通知
	MailSender mailer.Sender

	// 運用エンドポイント
	MetricsHandler     http.Handler
	HealthcheckHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Identity → RateLimit(General)
//
// 運用エンドポイント（/health、/metrics）は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	loanHandler := NewLoanHandler(deps.LoanService, deps.LoanFinder, deps.Resources, deps.MailSender, deps.LoanConfig)
	kindHandler := NewKindHandler(deps.KindService)

	// --- 認証不要のルート ---

	if deps.HealthcheckHandler != nil {
		r.Method(http.MethodGet, "/health", deps.HealthcheckHandler)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 貸出種別カタログ
		r.Get("/api/kinds", kindHandler.ListKinds)

		// 貸出管理
		r.Route("/api/loans", func(r chi.Router) {
			r.Get("/", loanHandler.ListLoans)
			// POST /api/loans - チェックアウト（専用レート制限を追加）
			r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/", loanHandler.Checkout)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", loanHandler.Checkin)
				r.Post("/renew", loanHandler.Renew)
				r.Get("/resources", loanHandler.ListResources)
				r.Post("/extension-request", loanHandler.RequestExtension)
			})
		})
	})

	return r
}
