package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lessonlift/config"
	"lessonlift/core"
	"lessonlift/core/adapter"
	"lessonlift/core/security"
	"lessonlift/models"
)

func main() {
	// 创建日志器
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.JSONFormatter{})
	// 🔇 关闭 Gin Debug 模式输出
	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	}
	if cfg.LogFile != "" {
		rotator, err := core.NewLogRotator(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			log.Fatal("Failed to open log file: ", err)
		}
		defer rotator.Close()
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	// 初始化数据库
	db, err := initDatabase(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	var secrets core.SecretProvider
	if cfg.SecretKey != "" {
		sp, err := security.NewAESSecretProvider(cfg.SecretKey)
		if err != nil {
			log.Fatal("Invalid SECRET_KEY: ", err)
		}
		secrets = sp
	} else {
		log.Warn("SECRET_KEY not set, stored credentials are disabled")
		secrets = core.NewDisabledSecretProvider()
	}

	factory := adapter.NewFactory(core.NewHTTPClient(cfg.GenerateTimeout), cfg.BaseURL)
	prober := core.NewAdapterProber(factory, cfg.Provider, cfg.ProbeTimeout, "", cfg.ProbeMaxTokens)

	attempts := core.NewAsyncAttemptLogger(db, log)
	defer attempts.Close()

	registry, err := core.NewProviderRegistry(db, log, core.NewKeyStateManager(), secrets, prober, core.RegistryOptions{
		EnvKeys:    cfg.APIKeys,
		Candidates: core.Candidates(cfg.Models...),
		Selector: core.SelectorOptions{
			KeyCooldown: cfg.KeyCooldown,
			Recorder:    attempts,
		},
	})
	if err != nil {
		log.Fatal("Failed to load provider credentials: ", err)
	}
	if registry.Pool().Count() == 0 {
		log.Warn("No provider credentials configured, lesson generation will fail until one is added")
	}

	usage := core.NewUsageTracker(db, quotaPolicy(cfg, log))
	lessons := core.NewLessonService(db, log, registry, usage, core.NewHistoryCache(cfg.HistoryTTL), core.GenerationOptions{
		MaxReselections: cfg.MaxReselections,
		GenerateTimeout: cfg.GenerateTimeout,
		MaxTokens:       cfg.GenerateMaxTokens,
	})

	app := &App{
		db:       db,
		log:      log,
		lessons:  lessons,
		users:    core.NewUserStore(db),
		registry: registry,
		provider: cfg.Provider,
	}

	limiter := NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	defer limiter.Stop()

	engine := gin.New()
	engine.Use(gin.RecoveryWithWriter(log.Writer()))
	engine.Use(corsMiddleware())
	setupRoutes(engine, app, limiter)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	// 启动服务器
	go func() {
		log.Infof("Starting %s on port %s (provider: %s, %d credentials, models: %v)",
			serviceName, cfg.Port, cfg.Provider, registry.Pool().Count(), cfg.Models)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown: ", err)
	}

	log.Info("Server exited")
}

// initDatabase 初始化数据库
func initDatabase(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	// 只记录错误，不打印 SQL 语句
	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	key, err := models.InitializeDefaultData(db, cfg.AdminToken)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize default data: %w", err)
	}
	if key != "" && cfg.AdminToken == "" {
		log.Warnf("🔑 Generated initial admin key: %s (store it now, it will not be shown again)", key)
	}

	log.Info("Database initialized successfully")
	return db, nil
}

// quotaPolicy 内置默认值叠加 YAML 中的限制
func quotaPolicy(cfg *config.Config, log *logrus.Logger) core.QuotaPolicy {
	policy := core.DefaultQuotaPolicy()
	if t := cfg.Trial; t != nil {
		if t.Lessons > 0 {
			policy.TrialLessons = t.Lessons
		}
		if t.Days > 0 {
			policy.TrialDays = t.Days
		}
		if len(t.Formats) > 0 {
			policy.TrialFormats = t.Formats
		}
	}
	for name, pl := range cfg.Plans {
		plan := models.Plan(name)
		if !plan.Valid() || plan == models.PlanTrial {
			log.Warnf("Ignoring limits for unknown plan %q", name)
			continue
		}
		limit := policy.Plans[plan]
		if pl.DailyMax > 0 {
			limit.DailyMax = pl.DailyMax
		}
		if pl.MonthlyMax > 0 {
			limit.MonthlyMax = pl.MonthlyMax
		}
		if len(pl.Formats) > 0 {
			limit.Formats = pl.Formats
		}
		policy.Plans[plan] = limit
	}
	return policy
}

// setupRoutes 设置路由
func setupRoutes(engine *gin.Engine, app *App, limiter *IPRateLimiter) {
	// 公开路由 - 无需鉴权
	engine.GET("/", handleRoot(app))
	engine.GET("/health", handleHealth(app))

	v1 := engine.Group("/v1")
	v1.Use(requestLoggerMiddleware(app.log), RateLimitMiddleware(limiter, app.log), UserAuthMiddleware(app.users))
	{
		v1.POST("/lessons", handleGenerateLesson(app))
		v1.GET("/lessons", handleListLessons(app))
		v1.GET("/lessons/:id", handleGetLesson(app))
		v1.DELETE("/lessons/:id", handleDeleteLesson(app))
		v1.POST("/lessons/:id/sections/:section/refine", handleRefineSection(app))
		v1.DELETE("/lessons/:id/sections/:section/refine", handleResetSection(app))
		v1.GET("/lessons/:id/export", handleExportLesson(app))
		v1.GET("/usage", handleUsage(app))
		v1.GET("/ws/lessons", handleLessonSocket(app))
	}

	// 管理API路由组
	admin := engine.Group("/admin")
	admin.Use(requestLoggerMiddleware(app.log), AdminAuthMiddleware(app.db))
	{
		admin.POST("/users", handleCreateUser(app))
		admin.GET("/users", handleListUsers(app))
		admin.PUT("/users/:id/plan", handleUpdatePlan(app))

		admin.POST("/credentials", handleCreateCredential(app))
		admin.GET("/credentials", handleListCredentials(app))
		admin.DELETE("/credentials/:id", handleDeleteCredential(app))

		admin.POST("/reload", handleReload(app))
		admin.GET("/provider", handleProviderSnapshot(app))
		admin.POST("/provider/invalidate", handleInvalidateProvider(app))
		admin.GET("/stats", handleStats(app))
	}
}
