package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации обоих агентов.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine"`
	NLU      NLUConfig      `mapstructure:"nlu"`
	Safety   SafetyConfig   `mapstructure:"safety"`
	Weather  WeatherConfig  `mapstructure:"weather"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает HTTP API сессий оркестратора.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ProviderConfig: адреса агента-провайдера.
type ProviderConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"` // где слушает провайдер
	HTTPAddr string `mapstructure:"http_addr"` // health + metrics
	Target   string `mapstructure:"target"`    // куда стучится оркестратор
	Embedded bool   `mapstructure:"embedded"`  // реестр в том же процессе, без сети
}

// DatabaseConfig описывает подключение к PostgreSQL (реплика аудита). Пустой URL — реплика выключена.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig: сигналы обновления каталога. Пустой Addr — слушатель не запускается.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig: политика делегирования и аудита.
type EngineConfig struct {
	MaxAttempts   uint          `mapstructure:"max_attempts"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
	CatalogPolicy string        `mapstructure:"catalog_policy"` // per-turn, per-session, manual
	HistoryWindow int           `mapstructure:"history_window"`

	AuditPath          string        `mapstructure:"audit_path"`
	AuditRetention     int           `mapstructure:"audit_retention"` // записей в памяти для /v1/audit
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Настройки Circuit Breaker для вызовов провайдера
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBTripAfter   uint32        `mapstructure:"cb_trip_after"`
}

// NLUConfig: внешний языковой коллаборатор.
type NLUConfig struct {
	Provider string        `mapstructure:"provider"` // openai, heuristic
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SafetyConfig: цепочка проверок.
type SafetyConfig struct {
	Classifier             string   `mapstructure:"classifier"` // patterns, nlu
	Domain                 string   `mapstructure:"domain"`
	ExtraJailbreakPatterns []string `mapstructure:"extra_jailbreak_patterns"`
	TopicKeywords          []string `mapstructure:"topic_keywords"`
	RefusalText            string   `mapstructure:"refusal_text"`
}

// WeatherConfig: внешний источник наблюдений.
type WeatherConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// 2. ENV перекрывает файл: ENGINE_MAX_ATTEMPTS=3 перекроет engine.max_attempts
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Ключ OpenAI исторически живет в своей переменной
	_ = v.BindEnv("nlu.api_key", "NLU_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("nlu.model", "NLU_MODEL", "OPENAI_MODEL")

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate отсекает конфигурации, с которыми ядро не может гарантировать свои инварианты.
func (c *Config) Validate() error {
	switch c.Engine.CatalogPolicy {
	case "per-turn", "per-session", "manual":
	default:
		return fmt.Errorf("config: unknown engine.catalog_policy %q", c.Engine.CatalogPolicy)
	}
	if c.Engine.MaxAttempts == 0 {
		return errors.New("config: engine.max_attempts must be at least 1")
	}
	if c.Engine.CallTimeout <= 0 || c.NLU.Timeout <= 0 {
		return errors.New("config: timeouts must be finite and positive")
	}
	switch c.NLU.Provider {
	case "openai", "heuristic":
	default:
		return fmt.Errorf("config: unknown nlu.provider %q", c.NLU.Provider)
	}
	switch c.Safety.Classifier {
	case "patterns", "nlu":
	default:
		return fmt.Errorf("config: unknown safety.classifier %q", c.Safety.Classifier)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("provider.grpc_addr", ":50052")
	v.SetDefault("provider.http_addr", ":9091")
	v.SetDefault("provider.target", "localhost:50052")
	v.SetDefault("provider.embedded", false)

	// Пустые дефолты нужны, чтобы viper знал ключ и подхватил его из ENV (DATABASE_URL, REDIS_ADDR)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("engine.max_attempts", 2)
	v.SetDefault("engine.call_timeout", 10*time.Second)
	v.SetDefault("engine.retry_delay", 200*time.Millisecond)
	v.SetDefault("engine.rate_limit", 20)
	v.SetDefault("engine.rate_burst", 5)
	v.SetDefault("engine.catalog_policy", "per-session")
	v.SetDefault("engine.history_window", 5)
	v.SetDefault("engine.audit_path", "audit.jsonl")
	v.SetDefault("engine.audit_retention", 10000)
	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)
	v.SetDefault("engine.cb_max_requests", 1)
	v.SetDefault("engine.cb_interval", 30*time.Second)
	v.SetDefault("engine.cb_timeout", 15*time.Second)
	v.SetDefault("engine.cb_trip_after", 5)

	v.SetDefault("nlu.provider", "openai")
	v.SetDefault("nlu.model", "gpt-4o-mini")
	v.SetDefault("nlu.base_url", "")
	v.SetDefault("nlu.timeout", 15*time.Second)

	v.SetDefault("safety.classifier", "patterns")
	v.SetDefault("safety.domain", "weather")
	v.SetDefault("safety.refusal_text", "")

	v.SetDefault("weather.base_url", "https://wttr.in")
	v.SetDefault("weather.timeout", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
