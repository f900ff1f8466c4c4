package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/igcse-subject-reservation/internal/config"
	"github.com/iliyamo/igcse-subject-reservation/internal/handler"
	"github.com/iliyamo/igcse-subject-reservation/internal/middleware"
	"github.com/iliyamo/igcse-subject-reservation/internal/policy"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the authentication routes. Unauthenticated
// operations live under /v1/auth, the protected /v1/me and /v1/logout
// sit behind the JWT middleware.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// Logout with a refresh token in the body works without a session.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
	// Logout here revokes every session of the authenticated caller.
	auth.POST("/logout", a.Logout)
}

// RegisterPublic registers the unauthenticated catalog browse endpoints.
func RegisterPublic(e *echo.Echo, cat *handler.CatalogHandler) {
	e.GET("/v1/subjects", cat.ListSubjects)
	e.GET("/v1/sessions", cat.ListSessions)
}

// RegisterAPI wires the authenticated surface. Students, parents and
// admins share the student-facing group; fine-grained ownership is decided
// in the service layer. The back-office group and the payment callbacks
// are admin-only. rdb may be nil, which disables rate limiting.
func RegisterAPI(e *echo.Echo, cfg config.Config, rdb *redis.Client,
	regs *handler.RegistrationHandler, esc *handler.EscrowHandler,
	par *handler.ParentHandler, adm *handler.AdminHandler, pay *handler.PaymentHandler) {

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	api := e.Group("/v1")
	api.Use(middleware.JWTAuth(cfg.JWTSecret))
	api.Use(middleware.RequireRole(
		string(policy.RoleAdmin), string(policy.RoleStudent), string(policy.RoleParent)))

	// Registration lifecycle. The mutating routes carry the limiter so a
	// stuck client cannot hammer the financial engine.
	api.POST("/students/:id/checkout", regs.Checkout, limiter)
	api.GET("/students/:id/registrations", regs.List)
	api.POST("/registrations/:id/drop", regs.Drop, limiter)
	api.POST("/registrations/:id/swap", regs.Swap, limiter)
	api.POST("/registrations/:id/switch-type", regs.SwitchType, limiter)

	// Escrow ledger.
	api.GET("/students/:id/escrow", esc.Balance)
	api.GET("/students/:id/escrow/transactions", esc.Statement)
	api.POST("/escrow/transfers", esc.Transfer, limiter)
	api.POST("/students/:id/withdrawals", esc.RequestWithdrawal, limiter)
	api.GET("/students/:id/withdrawals", esc.ListWithdrawals)

	// Parent linking.
	api.POST("/parent-links", par.RequestLink)
	api.GET("/parents/me/students", par.LinkedStudents)

	// Back office.
	admin := e.Group("/v1/admin")
	admin.Use(middleware.JWTAuth(cfg.JWTSecret))
	admin.Use(middleware.RequireRole(string(policy.RoleAdmin)))
	admin.POST("/sessions", adm.CreateSession)
	admin.POST("/sessions/:id/activate", adm.ActivateSession)
	admin.POST("/sessions/:id/close", adm.CloseSession)
	admin.GET("/sessions/:id/registrations", adm.SessionRegistrations)
	admin.POST("/sessions/:id/reclaim", adm.ReclaimExpired)
	admin.POST("/subjects", adm.CreateSubject)
	admin.POST("/subjects/:id/active", adm.SetSubjectActive)
	admin.PUT("/subjects/:id/prices", adm.UpdateSubjectPrices)
	admin.GET("/withdrawals", adm.PendingWithdrawals)
	admin.POST("/withdrawals/:id/fulfill", adm.FulfillWithdrawal)
	admin.POST("/withdrawals/:id/reject", adm.RejectWithdrawal)
	admin.POST("/parent-links/:id/approve", adm.ApproveParentLink)

	// Payment gateway callbacks, authenticated as an admin service account.
	payments := e.Group("/v1/payments")
	payments.Use(middleware.JWTAuth(cfg.JWTSecret))
	payments.Use(middleware.RequireRole(string(policy.RoleAdmin)))
	payments.POST("/confirm", pay.Confirm)
	payments.POST("/fail", pay.Fail)
}
