package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"telegram-downloader/internal/app"
	"telegram-downloader/internal/infra/config"
	"telegram-downloader/internal/infra/logger"
)

func main() {
	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	// config.Load загружает конфигурацию из .env и окружения.
	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Init(config.Env().LogLevel)
	if config.Env().LogFile != "" {
		logger.EnableFile(logger.FileOptions{
			Path:       config.Env().LogFile,
			Level:      config.Env().LogFileLevel,
			MaxSizeMB:  config.Env().LogFileMaxSize,
			MaxBackups: config.Env().LogFileMaxBackups,
			MaxAgeDays: config.Env().LogFileMaxAge,
			Compress:   config.Env().LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Собираем приложение и запускаем основной цикл; блокируется до shutdown.
	a := app.NewApp(ctx, stop)
	if runErr := a.Run(); runErr != nil && ctx.Err() == nil {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}

	stop()
	logger.Info("Graceful shutdown complete")
}
