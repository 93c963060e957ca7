package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unxversal/optionsengine/internal/options/application"
	"github.com/unxversal/optionsengine/internal/options/domain"
	"github.com/unxversal/optionsengine/internal/options/infrastructure/custody"
	"github.com/unxversal/optionsengine/internal/options/infrastructure/messaging"
	"github.com/unxversal/optionsengine/internal/options/infrastructure/oracle"
	"github.com/unxversal/optionsengine/internal/options/infrastructure/persistence/mysql"
	optionshttp "github.com/unxversal/optionsengine/internal/options/interfaces/http"
	"github.com/unxversal/optionsengine/pkg/cache"
	"github.com/unxversal/optionsengine/pkg/config"
	"github.com/unxversal/optionsengine/pkg/db"
	"github.com/unxversal/optionsengine/pkg/idgen"
	"github.com/unxversal/optionsengine/pkg/logger"
	"github.com/unxversal/optionsengine/pkg/metrics"
	"github.com/unxversal/optionsengine/pkg/middleware"
	"github.com/unxversal/optionsengine/pkg/mq"
	"github.com/unxversal/optionsengine/pkg/ratelimit"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/config.toml", "path to config file")
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("load config failed: %v", err))
	}

	// 2. Logger
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		panic(fmt.Sprintf("init logger failed: %v", err))
	}
	log := logger.Get()
	ctx := context.Background()

	// 3. Database
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "connect db failed", "error", err)
	}
	defer database.Close()

	if err := mysql.AutoMigrate(database.DB); err != nil {
		logger.Fatal(ctx, "migrate db failed", "error", err)
	}

	// 4. Redis
	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Fatal(ctx, "connect redis failed", "error", err)
	}
	defer redisCache.Close()

	// 5. Kafka
	var publisher domain.EventPublisher = messaging.NopEventPublisher{}
	var producer *mq.KafkaProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			logger.Fatal(ctx, "create kafka producer failed", "error", err)
		}
		defer producer.Close()
		publisher = messaging.NewKafkaEventPublisher(producer)
	} else {
		logger.Warn(ctx, "kafka brokers not configured, domain events disabled")
	}

	// 6. Metrics
	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		if err := m.Register(); err != nil {
			logger.Fatal(ctx, "register metrics failed", "error", err)
		}
		metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// 7. Domain & Infrastructure
	engine := domain.NewEngineContext(
		domain.NewAssetCatalog(),
		domain.FeeSchedule{
			TradeFeeBps:    cfg.Engine.TradeFeeBps,
			ExerciseFeeBps: cfg.Engine.ExerciseFeeBps,
		},
		domain.NewDiscountTable(nil),
	)
	engine.SetPaused(cfg.Engine.StartPaused)

	assetRepo := mysql.NewAssetRepository(database.DB)
	marketRepo := mysql.NewMarketRepository(database.DB)
	positionRepo := mysql.NewPositionRepository(database.DB)
	checkpointRepo := mysql.NewCheckpointRepository(database.DB)

	custodian := custody.NewLedgerCustodian(database)
	if err := custodian.AutoMigrate(); err != nil {
		logger.Fatal(ctx, "migrate custody tables failed", "error", err)
	}
	priceOracle := oracle.NewRedisOracle(redisCache)

	// 启动时从持久层重建标的目录
	assets, err := assetRepo.List(ctx)
	if err != nil {
		logger.Fatal(ctx, "load underlyings failed", "error", err)
	}
	for _, asset := range assets {
		if err := engine.Catalog.Register(asset); err != nil {
			logger.Fatal(ctx, "rebuild asset catalog failed", "symbol", asset.Symbol, "error", err)
		}
	}
	logger.Info(ctx, "asset catalog rebuilt", "count", len(assets))

	ids, err := idgen.New(cfg.Engine.SnowflakeNode)
	if err != nil {
		logger.Fatal(ctx, "init id generator failed", "error", err)
	}

	// 8. Application
	engineOpts := application.EngineOptions{
		RiskFreeRateBps:     cfg.Engine.RiskFreeRateBps,
		CollateralRatioBps:  cfg.Engine.CollateralRatioBps,
		OracleMaxStaleness:  time.Duration(cfg.Engine.OracleMaxStalenessMs) * time.Millisecond,
		SettlementChunkSize: cfg.Engine.SettlementChunkSize,
		SettlementLease:     time.Duration(cfg.Engine.SettlementLeaseSec) * time.Second,
	}
	locks := application.NewMarketLocks()
	optionsService := application.NewOptionsService(
		engine, assetRepo, marketRepo, positionRepo,
		priceOracle, custodian, publisher, ids, m, log, engineOpts, locks,
	)
	settlementService := application.NewSettlementService(
		engine, marketRepo, positionRepo, checkpointRepo,
		priceOracle, custodian, publisher, redisCache, m, log, engineOpts, locks,
	)

	// 9. HTTP
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinMetricsMiddleware(m),
		middleware.GinCORSMiddleware(),
	)
	if cfg.HTTP.RateLimitEnabled {
		limiter := ratelimit.NewRedisRateLimiter(redisCache.GetClient())
		router.Use(middleware.RateLimitMiddleware(limiter, cfg.HTTP.RateLimitRate, cfg.HTTP.RateLimitBurst, time.Second))
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName, "version": cfg.Version})
	})

	handler := optionshttp.NewOptionsHandler(optionsService, settlementService)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info(ctx, "starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "HTTP server failed", "error", err)
		}
	}()

	// 10. 到期市场巡检：定期触发自动结算
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go runSettlementSweeper(sweepCtx, marketRepo, settlementService, redisCache, log)

	// 11. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down server...")

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown failed", "error", err)
	}
	logger.Info(ctx, "server exiting")
}

// runSettlementSweeper 周期性扫描到期未结算市场并触发批量结算。
// 租约保证多实例部署下同一市场只有一个批次在跑；
// 结算报告写入 Redis 留存一天，供运维排查。
func runSettlementSweeper(ctx context.Context, markets domain.MarketRepository, settlement *application.SettlementService, reports *cache.RedisCache, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expiring, err := markets.ListExpiring(ctx, time.Now(), 100)
			if err != nil {
				log.ErrorContext(ctx, "settlement sweep: list expiring failed", "error", err)
				continue
			}
			for _, market := range expiring {
				report, err := settlement.AutoExercise(ctx, market.ID)
				if err != nil {
					log.ErrorContext(ctx, "settlement sweep: auto exercise failed",
						"market_id", market.ID, "error", err)
					continue
				}
				if !report.AlreadySettled {
					key := fmt.Sprintf("options:settlement:report:%d", market.ID)
					if cerr := reports.SetJSON(ctx, key, report, 24*time.Hour); cerr != nil {
						log.WarnContext(ctx, "settlement sweep: cache report failed",
							"market_id", market.ID, "error", cerr)
					}
					log.InfoContext(ctx, "settlement sweep: market settled",
						"market_id", market.ID,
						"exercised", report.Exercised,
						"expired_worthless", report.ExpiredWorthless,
						"skipped", report.Skipped)
				}
			}
		}
	}
}
