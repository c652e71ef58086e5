package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"XtendFM/cache"
	"XtendFM/config"
	"XtendFM/core/extender"
	"XtendFM/core/pathguard"
	"XtendFM/core/processing"
	"XtendFM/db"
	"XtendFM/logger"
	"XtendFM/repository"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	// Connect to the database
	if err := db.Connect(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", logger.ErrorField(err))
	}

	// Redis不可用时降级为无缓存运行
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis不可用，状态缓存已禁用", logger.ErrorField(err))
	} else {
		defer db.CloseRedis()
		logger.Info("Successfully connected to Redis")
	}

	// Create necessary directories if they don't exist
	ensureDirExists(cfg.UploadDir)
	ensureDirExists(cfg.ResultDir)

	guard, err := pathguard.New(cfg.UploadDir, cfg.ResultDir)
	if err != nil {
		logger.Fatal("Failed to initialize path guard", logger.ErrorField(err))
	}

	trackRepo := repository.NewGormTrackRepository(db.DB)
	statusCache := cache.NewStatusCache(db.RedisClient)
	audioExtender := extender.NewCommandExtender(cfg.ExtenderPath)
	logger.Info("音频扩展工具已配置", logger.String("binPath", audioExtender.BinPath()))
	manager := processing.NewManager(
		trackRepo,
		audioExtender,
		guard,
		statusCache,
		cfg.ResultDir,
		time.Duration(cfg.ExtendTimeout)*time.Second,
	)

	apiHandler := NewAPIHandler(trackRepo, manager, guard, statusCache, cfg)

	router := mux.NewRouter()
	router.Use(CORSMiddleware)
	router.Use(IdentityMiddleware)
	apiHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // 音频流式传输需要较长的写超时
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", logger.ErrorField(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}
	logger.Info("Server exited")
}

// ensureDirExists 确保目录存在
func ensureDirExists(dir string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Fatal("Failed to create directory",
			logger.String("dir", dir),
			logger.ErrorField(err))
	}
}
