package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Cron      CronConfig      `mapstructure:"cron"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Auction   AuctionConfig   `mapstructure:"auction"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Projector ProjectorConfig `mapstructure:"projector"`
	PaaS      PaaSConfig      `mapstructure:"paas"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// Swagger exposes /swagger/*any.
	Swagger bool `mapstructure:"swagger"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	AutoActivate   string `mapstructure:"auto_activate"`
	ReconcileSweep string `mapstructure:"reconcile_sweep"`
	StaleBids      string `mapstructure:"stale_bids"`
}

// RedisConfig is optional; an empty addr keeps the cache and the change
// feed in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	ChallengeTTL time.Duration `mapstructure:"challenge_ttl"`
	Issuer       string        `mapstructure:"issuer"`
}

type ChainConfig struct {
	RPCURL       string        `mapstructure:"rpc_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RPS          float64       `mapstructure:"rps"`
	Burst        int           `mapstructure:"burst"`
	PackageID    string        `mapstructure:"package_id"`
	KioskID      string        `mapstructure:"kiosk_id"`
	KioskCapID   string        `mapstructure:"kiosk_cap_id"`
	AdminAddress string        `mapstructure:"admin_address"`
	// AdminKey is a base64 keystore entry; set it through AH_CHAIN_ADMIN_KEY.
	AdminKey   string `mapstructure:"admin_key"`
	FeeAddress string `mapstructure:"fee_address"`
	ClockID    string `mapstructure:"clock_id"`
}

type AuctionConfig struct {
	MinIncrement       int64         `mapstructure:"min_increment"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	FeeBps             int64         `mapstructure:"fee_bps"`
	QueuePreview       int           `mapstructure:"queue_preview"`
	BidHistoryLimit    int           `mapstructure:"bid_history_limit"`
	MaxDurationHours   int           `mapstructure:"max_duration_hours"`
	AdminGasFloor      uint64        `mapstructure:"admin_gas_floor"`
	AdminGasMultiplier float64       `mapstructure:"admin_gas_multiplier"`
	AdminGasFallback   uint64        `mapstructure:"admin_gas_fallback"`
	UserGasFloor       uint64        `mapstructure:"user_gas_floor"`
	UserGasMultiplier  float64       `mapstructure:"user_gas_multiplier"`
	UserGasFallback    uint64        `mapstructure:"user_gas_fallback"`
	ExpiryGrace        time.Duration `mapstructure:"expiry_grace"`
	ExpiryRetry        time.Duration `mapstructure:"expiry_retry"`
	WatcherResync      time.Duration `mapstructure:"watcher_resync"`
}

type RetryConfig struct {
	ChainAttempts int           `mapstructure:"chain_attempts"`
	ChainBackoff  time.Duration `mapstructure:"chain_backoff"`
	StoreAttempts int           `mapstructure:"store_attempts"`
	StoreBackoff  time.Duration `mapstructure:"store_backoff"`
	ReadAttempts  int           `mapstructure:"read_attempts"`
	ReadBackoff   time.Duration `mapstructure:"read_backoff"`
}

type ProjectorConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	PushInterval time.Duration `mapstructure:"push_interval"`
}

// PaaSConfig points at the platform log sink. Empty base_url disables it.
type PaaSConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Project string        `mapstructure:"project"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.swagger", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.auto_activate", "@every 1m")
	v.SetDefault("cron.reconcile_sweep", "@every 5m")
	v.SetDefault("cron.stale_bids", "@every 1h")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "auctionhouse:records")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.challenge_ttl", "5m")
	v.SetDefault("auth.issuer", "auctionhouse")

	v.SetDefault("chain.rpc_url", "https://fullnode.testnet.sui.io:443")
	v.SetDefault("chain.timeout", "15s")
	v.SetDefault("chain.rps", 20)
	v.SetDefault("chain.burst", 40)
	v.SetDefault("chain.package_id", "")
	v.SetDefault("chain.kiosk_id", "")
	v.SetDefault("chain.kiosk_cap_id", "")
	v.SetDefault("chain.admin_address", "")
	v.SetDefault("chain.admin_key", "")
	v.SetDefault("chain.fee_address", "")
	v.SetDefault("chain.clock_id", "0x6")

	v.SetDefault("auction.min_increment", 100_000_000)
	v.SetDefault("auction.cooldown", "1h")
	v.SetDefault("auction.fee_bps", 750)
	v.SetDefault("auction.queue_preview", 5)
	v.SetDefault("auction.bid_history_limit", 100)
	v.SetDefault("auction.max_duration_hours", 168)
	v.SetDefault("auction.admin_gas_floor", 100_000_000)
	v.SetDefault("auction.admin_gas_multiplier", 1.5)
	v.SetDefault("auction.admin_gas_fallback", 150_000_000)
	v.SetDefault("auction.user_gas_floor", 300_000_000)
	v.SetDefault("auction.user_gas_multiplier", 1.2)
	v.SetDefault("auction.user_gas_fallback", 300_000_000)
	v.SetDefault("auction.expiry_grace", "2s")
	v.SetDefault("auction.expiry_retry", "30s")
	v.SetDefault("auction.watcher_resync", "1m")

	v.SetDefault("retry.chain_attempts", 2)
	v.SetDefault("retry.chain_backoff", "5s")
	v.SetDefault("retry.store_attempts", 3)
	v.SetDefault("retry.store_backoff", "2s")
	v.SetDefault("retry.read_attempts", 3)
	v.SetDefault("retry.read_backoff", "1s")

	v.SetDefault("projector.cache_ttl", "24h")
	v.SetDefault("projector.push_interval", "5s")

	v.SetDefault("paas.base_url", "")
	v.SetDefault("paas.token", "")
	v.SetDefault("paas.project", "auctionhouse")
	v.SetDefault("paas.timeout", "5s")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 5)
	v.SetDefault("rate_limit.burst", 20)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
