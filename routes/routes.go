package routes

import (
	"net/http"

	"toolcustody/app"
	"toolcustody/controllers"
	"toolcustody/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(r *gin.Engine, a *app.App) {
	// 控制器与依赖
	s := controllers.GetSrv(a)
	uc := controllers.GetUserController(s)
	toolCtl := controllers.NewToolController(s)

	// 复用的中间件
	authMW := app.AuthRequired(a.Accounts)
	seenMW := app.TouchLastSeen(a.Presence)
	gateMW := app.PasswordChangeGate()
	limitMW := a.AuthLimit.Middleware()
	can := app.RequireCapability

	r.GET("/healthz", func(c *app.Ctx) {
		c.JSON(http.StatusOK, app.H{"ok": true, "tools": a.Inventory.Len(), "users": a.Directory.Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ------------------------------
	// 账号登录（公开 + 受保护）
	// ------------------------------
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", limitMW, s.Login)
		auth.POST("/forgot-password", limitMW, s.ForgotPassword)
		auth.POST("/logout", s.Logout)
	}
	// 改密期间只放行这几个
	authed := auth.Group("", authMW, seenMW)
	{
		authed.GET("/me", s.Me)
		authed.POST("/change-password", s.ChangePassword)
	}

	// ------------------------------
	// WebAuthn（公开+受保护）
	// ------------------------------
	wa := r.Group("/webauthn")
	{
		wa.POST("/login/begin", limitMW, s.BeginLogin)
		wa.POST("/login/finish", s.FinishLogin)
	}
	waAuth := wa.Group("/enroll", authMW, seenMW, gateMW)
	{
		waAuth.POST("/begin", s.BeginEnroll)
		waAuth.POST("/finish", s.FinishEnroll)
		waAuth.POST("/dismiss", s.DismissEnroll)
	}

	api := r.Group("/api", authMW, seenMW, gateMW)

	// ------------------------------
	// 工具：浏览/借/还/管理
	// ------------------------------
	tools := api.Group("/tools")
	{
		tools.GET("", can(models.CapViewInventory), toolCtl.ListTools) // ?status=&category=
		tools.GET("/:id", can(models.CapViewInventory), toolCtl.GetTool)
		tools.POST("/:id/book-out", can(models.CapBook), toolCtl.BookOut)
		tools.POST("/:id/return", can(models.CapReturn), toolCtl.Return)

		tools.POST("", can(models.CapManageInventory), toolCtl.CreateTool)
		tools.PATCH("/:id", can(models.CapManageInventory), toolCtl.PatchTool)
		tools.PUT("/:id/status", can(models.CapManageInventory), toolCtl.SetStatus)
	}

	api.GET("/bookings/mine", toolCtl.MyBookings)
	api.GET("/bookings", can(models.CapViewAllBookings), toolCtl.AllBookings)
	api.GET("/reports/summary", can(models.CapViewReports), toolCtl.Summary)

	// ------------------------------
	// 用户管理
	// ------------------------------
	users := api.Group("/users", can(models.CapManageUsers))
	{
		users.GET("", uc.ListUsers)
		users.POST("", app.AdminOnly(), uc.CreateUser)
		users.PATCH("/:id", uc.PatchUser)
	}

	api.POST("/assistant/query", can(models.CapAIAssistant), s.AskAssistant)
	api.GET("/addresses", s.SuggestAddresses)
}
