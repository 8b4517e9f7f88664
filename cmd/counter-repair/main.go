package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	"ojcore/internal/judge/client"
	"ojcore/internal/judge/runner"
	problemRepo "ojcore/internal/problem/repository"
	statsRepo "ojcore/internal/stats/repository"
	statsService "ojcore/internal/stats/service"
	submitRepo "ojcore/internal/submit/repository"
	submitService "ojcore/internal/submit/service"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/server.yaml"

var repairTables = []string{"submissions", "problems"}

// counter-repair rebuilds problems.submission_count and accepted_count from
// the live submissions table.
func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	problemID := flag.Int64("problem", 0, "Repair a single problem; 0 repairs all")
	flag.Parse()

	cfg, err := loadRepairConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, *problemID); err != nil {
		logger.Error(context.Background(), "counter repair failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *RepairConfig, problemID int64) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Repair.Timeout)
	defer cancel()

	mysqlDB, err := db.NewMySQL(cfg.Database.MySQLConfig)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	dbProvider := db.NewManager(mysqlDB)
	switch strings.ToLower(cfg.Database.Transactions) {
	case "on":
	case "off":
		dbProvider.SetTransactional(false)
	default:
		ok, err := db.ProbeTransactions(ctx, mysqlDB, repairTables...)
		if err != nil {
			return fmt.Errorf("probe transactions failed: %w", err)
		}
		dbProvider.SetTransactional(ok)
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	judgeClient, err := client.NewClient(cfg.Judge.Config, client.NewLanguageCache(cfg.Judge.LanguageTTL))
	if err != nil {
		return fmt.Errorf("init judge client failed: %w", err)
	}
	grader, err := runner.NewRunner(judgeClient, cfg.Judge.Limits)
	if err != nil {
		return fmt.Errorf("init runner failed: %w", err)
	}
	stats, err := statsService.NewStatsService(statsService.Config{Repo: statsRepo.NewDailyStatsRepository(mysqlDB)})
	if err != nil {
		return fmt.Errorf("init stats service failed: %w", err)
	}

	svc, err := submitService.NewSubmitService(submitService.Config{
		Database:    dbProvider,
		Submissions: submitRepo.NewSubmissionRepository(mysqlDB, redisCache),
		Runs:        submitRepo.NewRunRepository(mysqlDB),
		Problems:    problemRepo.NewProblemRepository(mysqlDB, redisCache),
		Stats:       stats,
		Grader:      grader,
		Cache:       redisCache,
	})
	if err != nil {
		return fmt.Errorf("init submit service failed: %w", err)
	}

	if problemID > 0 {
		counters, err := svc.RecomputeCounters(ctx, problemID)
		if err != nil {
			return err
		}
		fmt.Printf("problem %d: submissions=%d accepted=%d\n", problemID, counters.SubmissionCount, counters.AcceptedCount)
		return nil
	}

	repaired, err := svc.RecomputeAllCounters(ctx)
	if err != nil {
		return fmt.Errorf("repaired %d problems before failing: %w", repaired, err)
	}
	fmt.Printf("repaired %d problems\n", repaired)
	return nil
}
