// Пакет config отвечает за сбор и предоставление конфигурации демона уведомлений.
// Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения, подставляя значения по умолчанию,
//  3. копит предупреждения о подставленных значениях,
//  4. переводит EnvConfig в notify.Settings,
//  5. следит за файлом .env и сообщает о его изменениях (см. watch.go).
//
// Бизнес-контекст: из окружения приходят размеры окна групп, задержки
// планировщика, пути к журналу пушей, истории и счётчикам идентификаторов,
// а также параметры логирования.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"chat-notifications/internal/domain/notify"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
//
// NB: значения уже проходят валидацию в loadConfig; по месту использования
// EnvConfig считается последовательным.
type EnvConfig struct {
	LogLevel string
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
	// Движок уведомлений
	MaxGroupCount        int
	MaxGroupSize         int
	DefaultDelayMS       int
	CloudDelayMS         int
	OnlineCloudTimeoutMS int
	// Хранилища
	JournalFile  string
	HistoryFile  string
	CountersFile string
	HistoryRPS   int
	// Присутствие: id собственного аккаунта для фильтра UpdateUserStatus.
	AccountID int64
	// Служебное
	ConfigWatch   bool
	RunTimeoutSec int
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: геттеры берут RLock, Load держит эксклюзивный Lock.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultLogLevel = "info"
	// LOG_FILE не имеет дефолта: файловый лог включается явно.
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true

	defaultJournalFile  = "data/notify_journal.bbolt"
	defaultHistoryFile  = "data/history.sqlite"
	defaultCountersFile = "data/notify_counters.json"
	defaultHistoryRPS   = 20

	defaultConfigWatch   = true
	defaultRunTimeoutSec = 0
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации.
// Переменные из envPath попадают в окружение процесса, уже заданные не
// перезаписываются. Повторный вызов запрещён.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if err := godotenv.Load(envPath); err != nil {
		return errors.Wrap(err, "failed to load .env")
	}
	cfg := loadConfig(os.Getenv)

	cfgInstance = cfg
	cfgDone = true
	return nil
}

// Parse читает envPath без изменения окружения процесса. Значения файла
// приоритетнее окружения; отсутствующие в файле берутся из окружения.
// Используется при перечитывании конфигурации на лету.
func Parse(envPath string) (EnvConfig, []string, error) {
	values, err := godotenv.Read(envPath)
	if err != nil {
		return EnvConfig{}, nil, errors.Wrap(err, "failed to read .env")
	}
	cfg := loadConfig(func(name string) string {
		if v, ok := values[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
	return cfg.Env, cfg.warnings, nil
}

// loadConfig собирает Config из произвольного источника переменных без
// установки глобального состояния.
func loadConfig(lookup func(string) string) *Config {
	r := &reader{lookup: lookup}

	env := EnvConfig{
		LogLevel:          r.logLevel("LOG_LEVEL", defaultLogLevel),
		LogFile:           strings.TrimSpace(lookup("LOG_FILE")),
		LogFileLevel:      r.logLevel("LOG_FILE_LEVEL", defaultLogFileLevel),
		LogFileMaxSize:    r.intDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero),
		LogFileMaxBackups: r.intDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative),
		LogFileMaxAge:     r.intDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative),
		LogFileCompress:   r.boolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress),

		MaxGroupCount: r.intDefault("NOTIFY_MAX_GROUP_COUNT", notify.DefaultMaxGroupCount,
			inRange(0, notify.MaxGroupCountLimit)),
		MaxGroupSize: r.intDefault("NOTIFY_MAX_GROUP_SIZE", notify.DefaultMaxGroupSize,
			inRange(notify.MinGroupSize, notify.MaxGroupSizeLimit)),
		DefaultDelayMS:       r.intDefault("NOTIFY_DEFAULT_DELAY_MS", millis(notify.DefaultDelay), nonNegative),
		CloudDelayMS:         r.intDefault("NOTIFY_CLOUD_DELAY_MS", millis(notify.DefaultCloudDelay), nonNegative),
		OnlineCloudTimeoutMS: r.intDefault("NOTIFY_ONLINE_CLOUD_TIMEOUT_MS", millis(notify.DefaultOnlineCloudTimeout), nonNegative),

		JournalFile:  r.file("JOURNAL_FILE", defaultJournalFile),
		HistoryFile:  r.file("HISTORY_FILE", defaultHistoryFile),
		CountersFile: r.file("COUNTERS_FILE", defaultCountersFile),
		HistoryRPS:   r.intDefault("HISTORY_RPS", defaultHistoryRPS, nonNegative),

		AccountID: r.int64Optional("ACCOUNT_ID"),

		ConfigWatch:   r.boolDefault("CONFIG_WATCH", defaultConfigWatch),
		RunTimeoutSec: r.intDefault("RUN_TIMEOUT_SEC", defaultRunTimeoutSec, nonNegative),
	}

	return &Config{
		Env:      env,
		warnings: r.warnings,
	}
}

// Settings переводит параметры движка в notify.Settings.
func (e EnvConfig) Settings() notify.Settings {
	return notify.Settings{
		MaxGroupCount: e.MaxGroupCount,
		MaxGroupSize:  e.MaxGroupSize,
		Delays: notify.Delays{
			Default:            time.Duration(e.DefaultDelayMS) * time.Millisecond,
			Cloud:              time.Duration(e.CloudDelayMS) * time.Millisecond,
			OnlineCloudTimeout: time.Duration(e.OnlineCloudTimeoutMS) * time.Millisecond,
		},
	}
}

// Warnings возвращает копию предупреждений, накопленных при загрузке .env.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton — снимок на момент Load.
func Env() EnvConfig {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	return cfgInstance.Env
}

// reader читает переменные из lookup и копит предупреждения о подставленных дефолтах.
type reader struct {
	lookup   func(string) string
	warnings []string
}

// intDefault читает name как int. Если пусто, некорректно или не проходит
// validator — возвращает defaultVal и пишет предупреждение.
func (r *reader) intDefault(name string, defaultVal int, validator func(int) bool) int {
	value := strings.TrimSpace(r.lookup(name))
	if value == "" {
		r.warnf("env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		r.warnf("env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		r.warnf("env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// int64Optional читает необязательный идентификатор; пустое значение даёт 0 без предупреждения.
func (r *reader) int64Optional(name string) int64 {
	value := strings.TrimSpace(r.lookup(name))
	if value == "" {
		return 0
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.warnf("env %s value %q is not a valid integer; ignoring", name, value)
		return 0
	}
	return v
}

func (r *reader) boolDefault(name string, defaultVal bool) bool {
	value := strings.TrimSpace(r.lookup(name))
	if value == "" {
		r.warnf("env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		r.warnf("env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// logLevel ограничивает значения набором {debug, info, warn, error}.
func (r *reader) logLevel(name, defaultVal string) string {
	raw := r.lookup(name)
	lvl := strings.ToLower(strings.TrimSpace(raw))
	if lvl == "" {
		r.warnf("env %s is not set; using default %q", name, defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		r.warnf("env %s value %q is invalid; using default %q", name, raw, defaultVal)
		return defaultVal
	}
}

func (r *reader) file(name, fallback string) string {
	v := strings.TrimSpace(r.lookup(name))
	if v == "" {
		r.warnf("env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

func (r *reader) warnf(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

func inRange(lo, hi int) func(int) bool {
	return func(v int) bool { return v >= lo && v <= hi }
}

func millis(d time.Duration) int { return int(d / time.Millisecond) }
