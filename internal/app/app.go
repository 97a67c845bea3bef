package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"questionnaire_backend/internal/config"
	"questionnaire_backend/internal/controller"
	"questionnaire_backend/internal/repository"
	"questionnaire_backend/internal/service"
	"questionnaire_backend/pkg/configwatcher"
	"questionnaire_backend/pkg/database"
	"questionnaire_backend/pkg/logger"
	"questionnaire_backend/pkg/monitoring"
	"questionnaire_backend/pkg/security"
	"questionnaire_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConfigFile 默认配置文件，热加载时监听
const ConfigFile = "configs/config.yaml"

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	Repos           *repository.Repositories
	ConfigPath      string
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type services struct {
	auth          *service.AuthService
	storage       *service.StorageService
	cache         *service.QuestionnaireCache
	questionnaire *service.QuestionnaireService
	importer      *service.ImportService
	response      *service.ResponseService
	admin         *service.AdminService
}

type controllers struct {
	auth          *controller.AuthController
	questionnaire *controller.QuestionnaireController
	response      *controller.ResponseController
	admin         *controller.AdminController
	health        *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initServices(repos *repository.Repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.cache = service.NewQuestionnaireCache(rdb, cfg.Redis.CacheTTL)
	s.auth = service.NewAuthService(repos.User, cfg)
	s.questionnaire = service.NewQuestionnaireService(repos, s.cache)
	s.importer = service.NewImportService(repos, s.cache, s.storage, cfg.Import.CollisionStep, cfg.Import.ArchiveUploads)
	s.response = service.NewResponseService(repos)
	s.admin = service.NewAdminService(repos)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:          controller.NewAuthController(s.auth, a.Config),
		questionnaire: controller.NewQuestionnaireController(s.questionnaire, s.response),
		response:      controller.NewResponseController(s.response),
		admin:         controller.NewAdminController(s.admin, s.importer, s.auth, a.Config),
		health:        controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// New 使用已建立的连接组装路由和服务；rdb 可以为空
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Repos:  repository.NewRepositories(db),
	}

	app.services = app.initServices(app.Repos, cfg, rdb)
	controllers := app.initControllers(app.services, db, rdb)

	// 监控初始化
	monitoring.Init()

	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	app.RegisterConfigCallback(func(newCfg *config.Config) {
		logger.SetMode(newCfg.Server.Mode)
		app.services.importer.ApplySettings(newCfg.Import.CollisionStep, newCfg.Import.ArchiveUploads)
	})
	return app
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	gin.SetMode(cfg.Server.Mode)

	// release 模式下默认不迁移，除非显式指定 -migrate
	migrate := cfg.ForceMigrate || cfg.Server.Mode != gin.ReleaseMode
	db, err := database.InitDB(&cfg.Database, migrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.InitRedis(&cfg.Redis)
		if err != nil {
			// 缓存为可选组件
			logger.Log.Warn("Failed to initialize redis, questionnaire cache disabled", zap.Error(err))
			rdb = nil
		}
	}

	app := New(cfg, db, rdb)
	if cfg.MigrateOnly {
		return app
	}

	if err := app.seed(cfg); err != nil {
		logger.Log.Error("Failed to seed database", zap.Error(err))
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	if cfg.Storage.Type == "local" {
		app.Router.Static("/uploads", cfg.Storage.LocalPath)
	}

	return app
}

// seed 首次启动时写入默认管理员和示例问卷
func (a *App) seed(cfg *config.Config) error {
	if cfg.Seed.Path == "" {
		return nil
	}
	if _, err := os.Stat(cfg.Seed.Path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	data, err := database.LoadSeed(cfg.Seed.Path)
	if err != nil {
		return err
	}
	if err := database.Seed(a.DB, data); err != nil {
		return err
	}
	ctx := context.Background()
	for _, table := range []string{"users", "questionnaires", "questions"} {
		if err := a.Repos.SyncSequence(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	configPath := a.ConfigPath
	if configPath == "" {
		configPath = ConfigFile
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		err := configwatcher.WatchConfig(watchCtx, filepath.Clean(configPath), func(cfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(cfg)
			}
		})
		if err != nil {
			logger.Log.Warn("Config watcher disabled", zap.Error(err))
		}
	}()

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if err := database.Close(a.DB); err != nil {
		logger.Log.Error("Failed to close database", zap.Error(err))
	}

	logger.Log.Info("Server exiting")
}
