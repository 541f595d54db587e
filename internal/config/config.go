package config

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/viper"
)

// Config хранит все настройки шлюза
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Realtime  RealtimeConfig
	WebSocket WebSocketConfig
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
}

// UpstreamConfig содержит настройки подключения к backend-у Qader
type UpstreamConfig struct {
	// BaseURL: базовый URL REST API (например, https://api.qader.io/api/v1)
	BaseURL string `mapstructure:"base_url"`

	// WSBaseURL: базовый URL realtime-каналов (например, wss://api.qader.io)
	WSBaseURL string `mapstructure:"ws_base_url"`

	// RequestTimeoutSec: тайм-аут одного REST-запроса в секундах
	RequestTimeoutSec int `mapstructure:"request_timeout_sec"`
}

// RedisConfig содержит унифицированные настройки подключения к Redis
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	// Mode: Режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: Список адресов Redis (хост:порт). Используется для всех режимов.
	Addrs []string `mapstructure:"addrs"`

	// Addr: Альтернативный адрес для режима 'single'.
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: Имя мастер-сервера Redis (только для режима "sentinel")
	MasterName string `mapstructure:"master_name"`

	// MaxRetries: Максимальное количество попыток переподключения (-1 - бесконечно).
	MaxRetries int `mapstructure:"max_retries"`

	// MinRetryBackoff: Минимальный интервал между попытками (в миллисекундах).
	MinRetryBackoff int `mapstructure:"min_retry_backoff"`

	// MaxRetryBackoff: Максимальный интервал между попытками (в миллисекундах).
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"`
}

// CacheConfig содержит TTL кешей справочника и каталога типов
type CacheConfig struct {
	// DirectoryTTLSec: TTL кеша страниц справочника челленджей. Короткий,
	// т.к. списки меняются при каждой команде жизненного цикла.
	DirectoryTTLSec int `mapstructure:"directory_ttl_sec"`

	// TypesTTLSec: TTL кеша каталога типов челленджей
	TypesTTLSec int `mapstructure:"types_ttl_sec"`

	// SessionTTLSec: TTL сессии шлюза в Redis
	SessionTTLSec int `mapstructure:"session_ttl_sec"`
}

// RealtimeConfig содержит настройки upstream realtime-канала
type RealtimeConfig struct {
	// HandshakeTimeoutSec: тайм-аут рукопожатия WebSocket
	HandshakeTimeoutSec int `mapstructure:"handshake_timeout_sec"`

	// ReconnectMinMs: начальная задержка переподключения
	ReconnectMinMs int `mapstructure:"reconnect_min_ms"`

	// ReconnectMaxMs: потолок экспоненциального backoff-а переподключения
	ReconnectMaxMs int `mapstructure:"reconnect_max_ms"`
}

// WebSocketConfig содержит настройки downstream WebSocket-подсистемы
type WebSocketConfig struct {
	// ClientSendBuffer: размер буфера канала отправки одного клиента
	ClientSendBuffer int `mapstructure:"client_send_buffer"`

	// PingIntervalSec: периодичность ping-сообщений клиентам
	PingIntervalSec int `mapstructure:"ping_interval_sec"`

	// PongWaitSec: время ожидания pong-ответа
	PongWaitSec int `mapstructure:"pong_wait_sec"`

	// WriteWaitSec: тайм-аут записи сообщения клиенту
	WriteWaitSec int `mapstructure:"write_wait_sec"`

	// MaxMessageSize: максимальный размер входящего сообщения
	MaxMessageSize int64 `mapstructure:"max_message_size"`
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	vip := viper.New() // Новый экземпляр Viper, чтобы избежать глобального состояния

	// 1. Значения по умолчанию
	vip.SetDefault("server.port", "8080")
	vip.SetDefault("server.readtimeout", 15)
	vip.SetDefault("server.writetimeout", 15)
	vip.SetDefault("upstream.request_timeout_sec", 15)
	vip.SetDefault("cache.directory_ttl_sec", 20)
	vip.SetDefault("cache.types_ttl_sec", 600)
	vip.SetDefault("cache.session_ttl_sec", 86400)
	vip.SetDefault("realtime.handshake_timeout_sec", 10)
	vip.SetDefault("realtime.reconnect_min_ms", 500)
	vip.SetDefault("realtime.reconnect_max_ms", 30000)
	vip.SetDefault("websocket.client_send_buffer", 128)
	vip.SetDefault("websocket.ping_interval_sec", 27)
	vip.SetDefault("websocket.pong_wait_sec", 30)
	vip.SetDefault("websocket.write_wait_sec", 10)
	vip.SetDefault("websocket.max_message_size", 512)

	// 2. Привязываем переменные окружения ЯВНО
	// Привязка для секции Upstream
	vip.BindEnv("upstream.base_url", "UPSTREAM_BASE_URL")
	vip.BindEnv("upstream.ws_base_url", "UPSTREAM_WS_BASE_URL")
	vip.BindEnv("upstream.request_timeout_sec", "UPSTREAM_REQUEST_TIMEOUT_SEC")

	// Привязка для секции Redis
	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS") // Для массива строк
	vip.BindEnv("redis.addr", "REDIS_ADDR")   // Для одиночной строки
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	// Привязка для секции Cache
	vip.BindEnv("cache.directory_ttl_sec", "CACHE_DIRECTORY_TTL_SEC")
	vip.BindEnv("cache.types_ttl_sec", "CACHE_TYPES_TTL_SEC")
	vip.BindEnv("cache.session_ttl_sec", "CACHE_SESSION_TTL_SEC")

	// Привязка для Server
	vip.BindEnv("server.port", "SERVER_PORT")

	// 3. Путь к файлу конфигурации
	if configPath != "" {
		vip.SetConfigFile(configPath)
		// Не страшно, если файла нет — есть BindEnv и умолчания
		if err := vip.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Printf("Файл конфигурации '%s' не найден, используются переменные окружения/умолчания.", configPath)
			} else {
				log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v", configPath, err)
			}
		}
	}

	// 4. Анмаршалим конфигурацию (Viper объединит файл и привязанные env vars)
	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 5. Логирование конфигурации (только в debug режиме)
	if os.Getenv("GIN_MODE") != "release" {
		log.Printf("--- Загруженные значения конфигурации ---")
		log.Printf("Upstream Base URL: %s", cfg.Upstream.BaseURL)
		log.Printf("Upstream WS Base URL: %s", cfg.Upstream.WSBaseURL)
		log.Printf("Redis Addr: %s", cfg.Redis.Addr)
		log.Printf("Redis Mode: %s", cfg.Redis.Mode)
		log.Printf("Server Port: %s", cfg.Server.Port)
		log.Printf("-----------------------------------------")
	}

	// 6. Проверка обязательных параметров
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL is required in config (check UPSTREAM_BASE_URL env var)")
	}
	if cfg.Upstream.WSBaseURL == "" {
		return nil, fmt.Errorf("upstream WS base URL is required in config (check UPSTREAM_WS_BASE_URL env var)")
	}

	return &cfg, nil
}
