package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"wisefido-beacon/internal/config"
	"wisefido-beacon/internal/service"
	"wisefido-beacon/owl-common/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-beacon")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting wisefido-beacon service",
		zap.String("version", "1.0.0"),
		zap.String("scanner_id", cfg.Scanner.ID),
		zap.String("source", cfg.Scanner.Source),
	)

	// 创建服务
	beaconService, err := service.NewBeaconService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create beacon service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := beaconService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start beacon service", zap.Error(err))
	}

	// 等待中断信号或流水线退出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-beaconService.Done():
		zapLogger.Error("Beacon pipeline exited, shutting down", zap.Error(beaconService.Err()))
		exitCode = 1
	}

	// 优雅关闭
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := beaconService.Stop(shutdownCtx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}
	shutdownCancel()

	zapLogger.Info("Service stopped")
	if exitCode != 0 {
		zapLogger.Sync()
		os.Exit(exitCode)
	}
}
