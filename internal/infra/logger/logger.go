// Package logger — централизованная обёртка над zap для всего приложения.
// Позволяет инициализировать уровень логирования, форматирование, а также
// добавить файловый core с ротацией (lumberjack). Использует zap.AtomicLevel
// для динамической смены уровня и mutex для потокобезопасности.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// mu защищает доступ к глобальному состоянию логгера от одновременных изменений.
	mu sync.Mutex
	// log хранит текущий экземпляр zap.Logger, используемый во всём приложении.
	log *zap.Logger
	// logLevel управляет динамическим уровнем логирования без пересоздания ядра.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// fileCore — опциональный core для записи в файл с ротацией; nil, если не настроен.
	fileCore zapcore.Core
)

// FileOptions описывает параметры файлового логирования с ротацией.
type FileOptions struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// defaultEncoderConfig формирует консольный encoder с цветами и коротким caller.
// Формат времени фиксирован (YYYY-MM-DD HH:MM:SS).
func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// fileEncoderConfig — вариант без цветов для записи в файл.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := defaultEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// rebuildLoggerLocked пересоздаёт глобальный логгер с текущими настройками.
// Предполагается, что вызывающий уже удерживает mu. AddCallerSkip(1) скрывает
// обёртки logger.* в стеке вызовов.
func rebuildLoggerLocked() {
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(defaultEncoderConfig()),
		zapcore.Lock(zapcore.AddSync(os.Stdout)),
		logLevel,
	)
	core := consoleCore
	if fileCore != nil {
		core = zapcore.NewTee(consoleCore, fileCore)
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// parseLevel преобразует строковый уровень в zapcore.Level (info по умолчанию).
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init инициализирует глобальный zap-логгер и настраивает уровень.
// Допустимые уровни: debug, info (по умолчанию), warn, error. Потокобезопасно.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()
	logLevel.SetLevel(parseLevel(level))
	rebuildLoggerLocked()
}

// EnableFile добавляет файловый core с ротацией через lumberjack.
// Пустой Path отключает файловое логирование. Потокобезопасно.
func EnableFile(opts FileOptions) {
	mu.Lock()
	defer mu.Unlock()

	if strings.TrimSpace(opts.Path) == "" {
		fileCore = nil
		rebuildLoggerLocked()
		return
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	})
	fileCore = zapcore.NewCore(
		zapcore.NewConsoleEncoder(fileEncoderConfig()),
		writer,
		zap.NewAtomicLevelAt(parseLevel(opts.Level)),
	)
	rebuildLoggerLocked()
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом обращении.
// Возвращается «сырое» API (не Sugared); предпочтительнее передавать структурированные zap.Field.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled проверяет, включен ли debug-уровень логирования.
func IsDebugEnabled() bool {
	return logLevel.Level() <= zap.DebugLevel
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение уровня Warn.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке уровня Error.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет структурированное сообщение об ошибке уровня Fatal и завершает работу приложения.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync()
	os.Exit(1)
}

// Debugf форматирует сообщение через fmt.Sprintf. Используйте экономно:
// форматирование аллоцирует; для горячих путей предпочтительны структурированные поля.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует сообщение через fmt.Sprintf. Для горячих путей лучше использовать Info с полями.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует сообщение через fmt.Sprintf. Предпочтительнее передавать данные через zap.Field.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует сообщение через fmt.Sprintf. В критичных участках используйте Error с полями.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
