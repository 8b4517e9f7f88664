package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	commonmw "ojcore/internal/common/http/middleware"
	"ojcore/internal/common/mq"
	"ojcore/internal/common/storage"
	"ojcore/internal/judge/client"
	judgeController "ojcore/internal/judge/controller"
	"ojcore/internal/judge/runner"
	problemRepo "ojcore/internal/problem/repository"
	statsController "ojcore/internal/stats/controller"
	statsRepo "ojcore/internal/stats/repository"
	statsService "ojcore/internal/stats/service"
	submitController "ojcore/internal/submit/controller"
	submitRepo "ojcore/internal/submit/repository"
	submitService "ojcore/internal/submit/service"
	userController "ojcore/internal/user/controller"
	userRepo "ojcore/internal/user/repository"
	userService "ojcore/internal/user/service"
	"ojcore/migrations"
	"ojcore/pkg/utils/logger"
	"ojcore/pkg/utils/validate"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/server.yaml"
	defaultEnvFile    = ".env"
	probeTimeout      = 5 * time.Second
)

// Tables written together by the submission flows.
var transactionalTables = []string{"submissions", "submission_runs", "problems", "user_stats_daily"}

type services struct {
	auth     *userService.AuthService
	sessions *userService.SessionService
	submit   *submitService.SubmitService
	stats    *statsService.StatsService
	judge    *client.Client
	limiter  *commonmw.RateLimiter
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envFile := flag.String("env", defaultEnvFile, "Optional dotenv file")
	migrateOnly := flag.Bool("migrate", false, "Apply database migrations and exit")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if *migrateOnly {
		if err := db.MigrateUp(appCfg.Database.DSN, migrations.FS); err != nil {
			logger.Error(context.Background(), "apply migrations failed", zap.Error(err))
			return
		}
		logger.Info(context.Background(), "migrations applied")
		return
	}

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "server stopped", zap.Error(err))
	}
}

func run(appCfg *AppConfig) error {
	validate.Setup()

	mysqlDB, err := db.NewMySQL(appCfg.Database.MySQLConfig)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	dbProvider := db.NewManager(mysqlDB)
	if err := configureTransactions(dbProvider, mysqlDB, appCfg.Database.Transactions); err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var archive *submitRepo.SourceArchive
	if appCfg.MinIO.Enabled() {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		archive, err = submitRepo.NewSourceArchive(objStorage, appCfg.MinIO.Bucket, appCfg.Submit.SourceKeyPrefix)
		if err != nil {
			return fmt.Errorf("init source archive failed: %w", err)
		}
	}

	var events mq.Producer
	if appCfg.Kafka.Enabled() {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		events = producer
	}

	judgeClient, err := client.NewClient(appCfg.Judge.Config, client.NewLanguageCache(appCfg.Judge.LanguageTTL))
	if err != nil {
		return fmt.Errorf("init judge client failed: %w", err)
	}
	grader, err := runner.NewRunner(judgeClient, appCfg.Judge.Limits)
	if err != nil {
		return fmt.Errorf("init runner failed: %w", err)
	}

	svc, err := buildServices(appCfg, dbProvider, mysqlDB, redisCache, judgeClient, grader, archive, events)
	if err != nil {
		return err
	}

	httpServer := buildHTTPServer(appCfg, svc)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

// configureTransactions records whether the three-way submission write can run
// inside one transaction.
func configureTransactions(manager *db.Manager, database db.Database, mode string) error {
	switch mode {
	case transactionsOn:
		manager.SetTransactional(true)
	case transactionsOff:
		manager.SetTransactional(false)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		ok, err := db.ProbeTransactions(ctx, database, transactionalTables...)
		if err != nil {
			return fmt.Errorf("probe transactions failed: %w", err)
		}
		manager.SetTransactional(ok)
	}
	logger.Info(context.Background(), "transaction capability resolved",
		zap.String("mode", mode),
		zap.Bool("transactional", manager.Transactional()),
	)
	return nil
}

func buildServices(
	appCfg *AppConfig,
	dbProvider *db.Manager,
	database db.Database,
	redisCache *cache.RedisCache,
	judgeClient *client.Client,
	grader *runner.Runner,
	archive *submitRepo.SourceArchive,
	events mq.Producer,
) (*services, error) {
	sessions, err := userService.NewSessionService(sessionServiceConfig(appCfg, userRepo.NewSessionRepository(redisCache)))
	if err != nil {
		return nil, fmt.Errorf("init session service failed: %w", err)
	}

	authService := userService.NewAuthService(
		dbProvider,
		userRepo.NewUserRepository(database, redisCache),
		sessions,
		redisCache,
		userService.AuthServiceConfig{
			LoginFailTTL:   appCfg.Session.LoginFailTTL,
			LoginFailLimit: appCfg.Session.LoginFailLimit,
		},
	)

	stats, err := statsService.NewStatsService(statsService.Config{
		Repo:         statsRepo.NewDailyStatsRepository(database),
		MaxRangeDays: appCfg.Stats.MaxRangeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("init stats service failed: %w", err)
	}

	submit, err := submitService.NewSubmitService(submitService.Config{
		Database: dbProvider,
		Submissions: submitRepo.NewSubmissionRepositoryWithTTL(
			database, redisCache, appCfg.Submit.SubmissionCacheTTL, appCfg.Submit.EmptyCacheTTL,
		),
		Runs: submitRepo.NewRunRepository(database),
		Problems: problemRepo.NewProblemRepositoryWithTTL(
			database, redisCache, appCfg.Submit.ProblemCacheTTL, appCfg.Submit.EmptyCacheTTL,
		),
		Stats:        stats,
		Grader:       grader,
		Languages:    judgeClient,
		Cache:        redisCache,
		Archive:      archive,
		Events:       events,
		EventTopic:   appCfg.Submit.EventTopic,
		MaxCodeBytes: appCfg.Submit.MaxCodeBytes,
		LockTTL:      appCfg.Submit.LockTTL,
		RateLimit:    appCfg.Submit.RateLimit,
		Timeouts:     appCfg.Submit.Timeouts,
	})
	if err != nil {
		return nil, fmt.Errorf("init submit service failed: %w", err)
	}

	return &services{
		auth:     authService,
		sessions: sessions,
		submit:   submit,
		stats:    stats,
		judge:    judgeClient,
		limiter:  commonmw.NewRateLimiter(redisCache, appCfg.Submit.Timeouts.Cache),
	}, nil
}

func sessionServiceConfig(appCfg *AppConfig, sessions userRepo.SessionRepository) userService.SessionConfig {
	return userService.SessionConfig{
		Sessions:      sessions,
		JWTSecret:     []byte(appCfg.Session.JWTSecret),
		JWTIssuer:     appCfg.Session.JWTIssuer,
		AccessTTL:     appCfg.Session.AccessTTL,
		RefreshTTL:    appCfg.Session.RefreshTTL,
		InactivityTTL: appCfg.Session.InactivityTTL,
		MaxSessions:   appCfg.Session.MaxSessions,
		TouchInterval: appCfg.Session.TouchInterval,
		CacheTimeout:  appCfg.Submit.Timeouts.Cache,
	}
}

func buildHTTPServer(appCfg *AppConfig, svc *services) *http.Server {
	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      buildRouter(appCfg, svc),
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

func buildRouter(appCfg *AppConfig, svc *services) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())
	router.Use(commonmw.CORSMiddleware(appCfg.CORS))

	requireAuth := commonmw.AuthMiddleware(userController.NewAuthFunc(svc.sessions))
	requireAdmin := commonmw.RequireRoles(string(userRepo.UserRoleAdmin), string(userRepo.UserRoleSuperAdmin))

	api := router.Group("/api/v1")

	authHandler := userController.NewAuthController(svc.auth)
	auth := api.Group("/auth")
	auth.POST("/login", commonmw.IPRateLimit(svc.limiter, "login", appCfg.Session.LoginRateMax, appCfg.Session.LoginRateWindow), authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", authHandler.Logout)
	auth.POST("/logout-all", requireAuth, authHandler.LogoutAll)
	auth.PUT("/password", requireAuth, authHandler.ChangePassword)
	auth.GET("/session", requireAuth, authHandler.Session)

	submitHandler := submitController.NewSubmitController(svc.submit)
	submissions := api.Group("/submissions", requireAuth)
	submissions.POST("", submitHandler.Create)
	submissions.GET("/:id", submitHandler.Get)
	submissions.GET("/:id/runs", submitHandler.ListRuns)
	submissions.POST("/:id/resubmit", submitHandler.Resubmit)
	submissions.DELETE("/:id", submitHandler.Delete)

	api.POST("/problems/:id/recount", requireAuth, requireAdmin, submitHandler.Recount)

	languageHandler := judgeController.NewLanguageController(svc.judge)
	api.GET("/languages", languageHandler.List)
	api.POST("/languages/refresh", requireAuth, requireAdmin, languageHandler.Refresh)

	statsHandler := statsController.NewStatsController(svc.stats)
	api.GET("/stats/daily", requireAuth, statsHandler.Daily)

	return router
}
