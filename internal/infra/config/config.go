// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (бот-загрузчик на MTProto). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. предоставляет доступ к результату через singleton.
//
// Бизнес-контекст: конфигурация управляет подключением к Telegram API (бот и
// вторичные пользовательские сессии), лимитами квот и параллелизма, каналом
// архива, параметрами рекламной сети и платёжными контактами. Часть настроек
// (force-sub канал, dump-канал) живёт не здесь, а в хранилище настроек и
// редактируется админ-командами в рантайме.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это
// «операционные» настройки запуска: учётные данные Telegram API, файлы
// хранилищ, лимиты и параметры внешних интеграций.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	APIID    int
	APIHash  string
	BotToken string
	OwnerID  int64

	SessionFile    string
	DBFile         string
	StateFile      string
	PeersCacheFile string
	DownloadDir    string

	MaxConcurrentDownloads  int
	DailyFreeLimit          int
	BatchLimit              int
	TransferTimeoutMin      int
	MemoryThresholdMB       int
	ProgressEditIntervalSec int
	ThrottleRPS             int
	TestDC                  bool

	// Канал архива по умолчанию; может быть переопределён настройкой dump_channel_id.
	DumpChannelID int64

	// Рекламная сеть.
	AdPublisherID string
	AdWidgetID    string
	AdEndpoint    string
	AdDailyLimit  int

	// Контакт для оплаты премиума (выводится в /upgrade).
	PaymentContact string

	// Логирование.
	LogLevel          string
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock. Конфигурация загружается
// один раз на старте и далее не мутирует.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultSessionFile     = "data/bot_session.json"
	defaultDBFile          = "data/bot.bbolt"
	defaultStateFile       = "data/updates_state.bbolt"
	defaultPeersCacheFile  = "data/peers_cache.bbolt"
	defaultDownloadDir     = "data/downloads"
	defaultMaxConcurrent   = 5
	defaultDailyFreeLimit  = 5
	defaultBatchLimit      = 50
	defaultTransferTimeout = 10
	defaultMemoryThreshold = 10
	defaultProgressEditSec = 5
	defaultThrottleRPS     = 20
	defaultAdDailyLimit    = 3
	defaultAdEndpoint      = "http://15068.xml.adx1.com/telegram-mb"
	defaultPaymentContact  = "@admin"
	defaultLogLevel        = "info"
	// Файловое логирование (LOG_FILE не имеет дефолта — должен быть явно указан для активации).
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат в
// singleton cfgInstance. Повторный вызов запрещён (возвращается ошибка), чтобы
// избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}

	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env API_HASH must be set")
	}

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set")
	}

	var warnings []string

	ownerID := parseInt64Default("OWNER_ID", 0, &warnings)
	dumpChannelID := parseInt64Default("DUMP_CHANNEL_ID", 0, &warnings)
	maxConcurrent := parseIntDefault("MAX_CONCURRENT_DOWNLOADS", defaultMaxConcurrent, greaterThanZero, &warnings)
	dailyFreeLimit := parseIntDefault("DAILY_FREE_LIMIT", defaultDailyFreeLimit, greaterThanZero, &warnings)
	batchLimit := parseIntDefault("BATCH_LIMIT", defaultBatchLimit, greaterThanZero, &warnings)
	transferTimeout := parseIntDefault("TRANSFER_TIMEOUT_MIN", defaultTransferTimeout, greaterThanZero, &warnings)
	memoryThreshold := parseIntDefault("MEMORY_THRESHOLD_MB", defaultMemoryThreshold, nonNegative, &warnings)
	progressEditSec := parseIntDefault("PROGRESS_EDIT_INTERVAL_SEC", defaultProgressEditSec, greaterThanZero, &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	adDailyLimit := parseIntDefault("AD_DAILY_LIMIT", defaultAdDailyLimit, nonNegative, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	sessionFile := sanitizeFile("SESSION_FILE", os.Getenv("SESSION_FILE"), defaultSessionFile, &warnings)
	dbFile := sanitizeFile("DB_FILE", os.Getenv("DB_FILE"), defaultDBFile, &warnings)
	stateFile := sanitizeFile("STATE_FILE", os.Getenv("STATE_FILE"), defaultStateFile, &warnings)
	peersCacheFile := sanitizeFile("PEERS_CACHE_FILE", os.Getenv("PEERS_CACHE_FILE"), defaultPeersCacheFile, &warnings)
	downloadDir := sanitizeFile("DOWNLOAD_DIR", os.Getenv("DOWNLOAD_DIR"), defaultDownloadDir, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")
	adPublisherID := strings.TrimSpace(os.Getenv("AD_PUBLISHER_ID"))
	adWidgetID := strings.TrimSpace(os.Getenv("AD_WIDGET_ID"))
	adEndpoint := sanitizeFile("AD_ENDPOINT", os.Getenv("AD_ENDPOINT"), defaultAdEndpoint, &warnings)
	paymentContact := sanitizeFile("PAYMENT_CONTACT", os.Getenv("PAYMENT_CONTACT"), defaultPaymentContact, &warnings)
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	if ownerID == 0 {
		appendWarningf(&warnings, "env OWNER_ID is not set; admin commands will be unavailable")
	}

	env := EnvConfig{
		APIID:                   apiID,
		APIHash:                 apiHash,
		BotToken:                botToken,
		OwnerID:                 ownerID,
		SessionFile:             sessionFile,
		DBFile:                  dbFile,
		StateFile:               stateFile,
		PeersCacheFile:          peersCacheFile,
		DownloadDir:             downloadDir,
		MaxConcurrentDownloads:  maxConcurrent,
		DailyFreeLimit:          dailyFreeLimit,
		BatchLimit:              batchLimit,
		TransferTimeoutMin:      transferTimeout,
		MemoryThresholdMB:       memoryThreshold,
		ProgressEditIntervalSec: progressEditSec,
		ThrottleRPS:             throttleRPS,
		TestDC:                  testDC,
		DumpChannelID:           dumpChannelID,
		AdPublisherID:           adPublisherID,
		AdWidgetID:              adWidgetID,
		AdEndpoint:              adEndpoint,
		AdDailyLimit:            adDailyLimit,
		PaymentContact:          paymentContact,
		LogLevel:                logLevel,
		LogFile:                 logFile,
		LogFileLevel:            logFileLevel,
		LogFileMaxSize:          logFileMaxSize,
		LogFileMaxBackups:       logFileMaxBackups,
		LogFileMaxAge:           logFileMaxAge,
		LogFileCompress:         logFileCompress,
	}

	return &Config{
		Env:      env,
		warnings: warnings,
	}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseInt64Default читает name как int64 (идентификаторы Telegram не помещаются
// в int32). Пустое значение не считается ошибкой: многие id опциональны.
func parseInt64Default(name string, defaultVal int64, warnings *[]string) int64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeFile возвращает валидное имя файла/значение конфигурации. Если
// переменная не задана, подставляет fallback и пишет предупреждение.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}
