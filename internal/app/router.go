package app

import (
	"questionnaire_backend/docs"
	"questionnaire_backend/internal/config"
	"questionnaire_backend/internal/middleware"
	"questionnaire_backend/internal/util"
	"questionnaire_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())
	router.NoRoute(util.NotFound)

	api := router.Group("/api")
	api.Use(middleware.RequestLogger())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(api, c)

	// 2. 需要登录的路由
	authGroup := api.Group("")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerUserRoutes(authGroup, c)
	}

	// 3. 管理员相关接口
	a.registerAdminRoutes(api, c, cfg)
}

func (a *App) registerPublicRoutes(api *gin.RouterGroup, c *controllers) {
	api.GET("/health", c.health.HealthCheck)

	auth := api.Group("/auth")
	{
		auth.POST("/login", c.auth.Login)
		auth.POST("/register", c.auth.Register)
		auth.POST("/logout", c.auth.Logout)
	}
}

func (a *App) registerUserRoutes(group *gin.RouterGroup, c *controllers) {
	group.GET("/auth/me", c.auth.Me)

	questionnaires := group.Group("/questionnaires")
	{
		questionnaires.GET("", c.questionnaire.List)
		questionnaires.GET("/:id", c.questionnaire.Get)
		questionnaires.GET("/:id/prefill", c.questionnaire.Prefill)
	}

	responses := group.Group("/responses")
	{
		responses.POST("/submit", c.response.Submit)
		responses.DELETE("/delete", c.response.Delete)
		responses.GET("/completions", c.response.Completions)
	}
}

func (a *App) registerAdminRoutes(api *gin.RouterGroup, c *controllers, cfg *config.Config) {
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.AdminMiddleware())
	{
		admin.GET("/dashboard-stats", c.admin.DashboardStats)
		admin.GET("/users", c.admin.Users)
		admin.GET("/user-responses", c.admin.UserResponses)
		admin.GET("/user-responses/:userId", c.admin.UserResponses)

		admin.POST("/import-questionnaires", c.admin.ImportQuestionnaires)
		admin.POST("/import-csv", c.admin.ImportCSV)
		admin.GET("/pending-questionnaires", c.admin.PendingQuestionnaires)
		admin.POST("/approve-questionnaire", c.admin.ApproveQuestionnaire)
		admin.POST("/reset-questionnaire", c.admin.ResetQuestionnaire)
	}
}
