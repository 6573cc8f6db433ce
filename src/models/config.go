package models

// MConfig Structure
type MConfig struct {
	Name       string              `yaml:"name" env:"MS_NAME" env-default:"market-stream"`
	Host       string              `yaml:"host" env:"MS_HOST" env-default:"127.0.0.1"`
	Port       int                 `yaml:"port" env:"MS_PORT" env-default:"8000"`
	LogLevel   string              `yaml:"log_level" env:"MS_LOG_LEVEL" env-default:"INFO"`
	MemoryMB   int                 `yaml:"memory_limit_mb" env:"MS_MEMORY_LIMIT_MB"`
	GrpcHost   string              `yaml:"grpc_host" env:"MS_GRPC_HOST" env-default:"127.0.0.1"`
	GrpcPort   int                 `yaml:"grpc_port" env:"MS_GRPC_PORT"`
	Stream     MStreamConfig       `yaml:"stream"`
	Instrument MInstrumentConfig   `yaml:"instruments"`
	Storage    MStorageConfig      `yaml:"storage"`
	Redis      MRedisConfig        `yaml:"redis"`
	History    MHistoryConfig      `yaml:"history"`
	Network    MNetworkConfig      `yaml:"network"`
	Calendar   MCalendarConfig     `yaml:"calendar"`
	Tracing    MTracingConfig      `yaml:"tracing"`
	Timeframes []string            `yaml:"timeframes"`
	Watchlists map[string][]string `yaml:"watchlists"`
}

type MStreamConfig struct {
	URL               string `yaml:"url" env:"MS_STREAM_URL"`
	BackoffSeconds    []int  `yaml:"backoff_seconds"`
	PendingBufferSize int    `yaml:"pending_buffer_size" env:"MS_PENDING_BUFFER_SIZE" env-default:"500"`
	WriteTimeout      int    `yaml:"write_timeout" env:"MS_STREAM_WRITE_TIMEOUT" env-default:"5"`
}

// MInstrumentConfig drives price unit normalization. Divisors are keyed by
// instrument type, Types maps a symbol to its instrument type.
type MInstrumentConfig struct {
	DefaultType string            `yaml:"default_type" env-default:"stock"`
	Divisors    map[string]int64  `yaml:"divisors"`
	Types       map[string]string `yaml:"types"`
	Precision   int32             `yaml:"precision" env-default:"2"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type" env:"MS_DB_TYPE" env-default:"sqlite"`
	DBPath             string `yaml:"db_path" env:"MS_DB_PATH"`
	DBConnectionString string `yaml:"db_connection_string" env:"MS_DB_CONNECTION_STRING"`
	RetentionDays      int    `yaml:"retention_days" env-default:"30"`
}

type MRedisConfig struct {
	Addr       string `yaml:"addr" env:"MS_REDIS_ADDR"`
	Password   string `yaml:"password" env:"MS_REDIS_PASSWORD"`
	DB         int    `yaml:"db" env:"MS_REDIS_DB"`
	TTLSeconds int    `yaml:"ttl_seconds" env-default:"86400"`
	Namespace  string `yaml:"namespace" env-default:"snapshot"`
}

type MHistoryConfig struct {
	BaseURL string `yaml:"base_url" env:"MS_HISTORY_URL"`
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout" env-default:"10"`
	MaxRetries     int    `yaml:"retries" env-default:"2"`
	UserAgent      string `yaml:"user_agent"`
}

type MCalendarConfig struct {
	DefaultMIC string `yaml:"default_mic" env-default:"xnys"`
}

type MTracingConfig struct {
	Enabled bool `yaml:"enabled" env:"MS_TRACING_ENABLED"`
}
