/**
 * @description
 * This package handles the configuration management for the relayer. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), applying defaults and normalizing values after unmarshalling.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Requeue policies for failed submission attempts.
const (
	RequeueTail = "tail"
	RequeueHead = "head"
)

// pendingIdempotencyMargin is added to the ledger call timeout to bound a pending
// idempotency claim.
const pendingIdempotencyMargin = 30 * time.Second

// Signature schemes accepted for client-signed requests.
const (
	SchemeSecp256k1 = "secp256k1"
	SchemeEd25519   = "ed25519"
)

// Config holds all the configuration variables for the relayer.
type Config struct {
	ServerPort               string        `mapstructure:"RELAYER_PORT"`
	APIKey                   string        `mapstructure:"RELAYER_API_KEY"`
	JWTSecret                string        `mapstructure:"RELAYER_JWT_SECRET"`
	ChainWSURL               string        `mapstructure:"CHAIN_WS_URL"`
	RelayerSeed              string        `mapstructure:"RELAYER_SEED"`
	TxPallet                 string        `mapstructure:"RELAYER_TX_PALLET"`
	TxMethod                 string        `mapstructure:"RELAYER_TX_METHOD"`
	TxArgs                   string        `mapstructure:"RELAYER_TX_ARGS"`
	RequireSignature         bool          `mapstructure:"RELAYER_REQUIRE_SIGNATURE"`
	SignatureScheme          string        `mapstructure:"RELAYER_SIGNATURE_SCHEME"`
	MaxRetries               int           `mapstructure:"RELAYER_MAX_RETRIES"`
	IdempotencyTTLSeconds    int           `mapstructure:"RELAYER_IDEMPOTENCY_TTL"`
	ChainID                  string        `mapstructure:"RELAYER_CHAIN_ID"`
	SigningDomain            string        `mapstructure:"RELAYER_SIGNING_DOMAIN"`
	SigningAction            string        `mapstructure:"RELAYER_SIGNING_ACTION"`
	WorkerInterval           time.Duration `mapstructure:"RELAYER_WORKER_INTERVAL"`
	RequeuePolicy            string        `mapstructure:"RELAYER_REQUEUE_POLICY"`
	StoreBackend             string        `mapstructure:"STORE_BACKEND"`
	RedisURL                 string        `mapstructure:"REDIS_URL"`
	RedisKeyPrefix           string        `mapstructure:"REDIS_KEY_PREFIX"`
	DatabaseURL              string        `mapstructure:"DATABASE_URL"`
	LedgerCallTimeout        time.Duration `mapstructure:"LEDGER_CALL_TIMEOUT"`
	LedgerSubmitRPC          string        `mapstructure:"LEDGER_SUBMIT_RPC"`
	LedgerHeightCacheTTL     time.Duration `mapstructure:"LEDGER_HEIGHT_CACHE_TTL"`
	RabbitMQURL              string        `mapstructure:"RABBITMQ_URL"`
	EventsExchange           string        `mapstructure:"EVENTS_EXCHANGE"`
	IntakeQueue              string        `mapstructure:"INTAKE_QUEUE"`
	IntakeRateLimitPerMinute int           `mapstructure:"INTAKE_RATE_LIMIT_PER_MINUTE"`
	AssetCatalogPath         string        `mapstructure:"ASSET_CATALOG_PATH"`
	CORSAllowedOrigins       string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                 string        `mapstructure:"LOG_LEVEL"`
	LogFile                  string        `mapstructure:"LOG_FILE"`
}

// IdempotencyTTL returns the configured idempotency expiry as a duration.
func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}

// PendingIdempotencyTTL is how long an unfinished request holds its key: one ledger
// call plus a margin, never longer than IdempotencyTTL.
func (c Config) PendingIdempotencyTTL() time.Duration {
	pending := c.LedgerCallTimeout + pendingIdempotencyMargin
	if ttl := c.IdempotencyTTL(); pending > ttl {
		return ttl
	}
	return pending
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS into a list.
func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// TxArgKeys splits RELAYER_TX_ARGS into a list; empty means the defaults apply.
func (c Config) TxArgKeys() []string {
	return splitList(c.TxArgs)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("RELAYER_PORT", "8787")
	viper.SetDefault("CHAIN_WS_URL", "ws://127.0.0.1:9944")
	viper.SetDefault("RELAYER_TX_PALLET", "remitchain")
	viper.SetDefault("RELAYER_TX_METHOD", "sendRemittanceGasless")
	viper.SetDefault("RELAYER_REQUIRE_SIGNATURE", true)
	viper.SetDefault("RELAYER_SIGNATURE_SCHEME", SchemeSecp256k1)
	viper.SetDefault("RELAYER_MAX_RETRIES", 3)
	viper.SetDefault("RELAYER_IDEMPOTENCY_TTL", 3600)
	viper.SetDefault("RELAYER_CHAIN_ID", "1337")
	viper.SetDefault("RELAYER_SIGNING_DOMAIN", "remitchain")
	viper.SetDefault("RELAYER_SIGNING_ACTION", "send")
	viper.SetDefault("RELAYER_WORKER_INTERVAL", "1s")
	viper.SetDefault("RELAYER_REQUEUE_POLICY", RequeueTail)
	viper.SetDefault("REDIS_KEY_PREFIX", "relayer")
	viper.SetDefault("LEDGER_CALL_TIMEOUT", "30s")
	viper.SetDefault("LEDGER_SUBMIT_RPC", "author_submitRelayCall")
	viper.SetDefault("LEDGER_HEIGHT_CACHE_TTL", "2s")
	viper.SetDefault("EVENTS_EXCHANGE", "remitchain.events")
	viper.SetDefault("INTAKE_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("LOG_LEVEL", "info")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("RELAYER_PORT", "RELAYER_PORT", "PORT")
	_ = viper.BindEnv("RELAYER_API_KEY")
	_ = viper.BindEnv("RELAYER_JWT_SECRET")
	_ = viper.BindEnv("CHAIN_WS_URL")
	_ = viper.BindEnv("RELAYER_SEED")
	_ = viper.BindEnv("RELAYER_TX_PALLET")
	_ = viper.BindEnv("RELAYER_TX_METHOD")
	_ = viper.BindEnv("RELAYER_TX_ARGS")
	_ = viper.BindEnv("RELAYER_REQUIRE_SIGNATURE")
	_ = viper.BindEnv("RELAYER_SIGNATURE_SCHEME")
	_ = viper.BindEnv("RELAYER_MAX_RETRIES")
	_ = viper.BindEnv("RELAYER_IDEMPOTENCY_TTL")
	_ = viper.BindEnv("RELAYER_CHAIN_ID", "RELAYER_CHAIN_ID", "CHAIN_ID", "NEXT_PUBLIC_CHAIN_ID")
	_ = viper.BindEnv("RELAYER_SIGNING_DOMAIN", "RELAYER_SIGNING_DOMAIN", "SIGNING_DOMAIN")
	_ = viper.BindEnv("RELAYER_SIGNING_ACTION", "RELAYER_SIGNING_ACTION", "SIGNING_ACTION")
	_ = viper.BindEnv("RELAYER_WORKER_INTERVAL")
	_ = viper.BindEnv("RELAYER_REQUEUE_POLICY")
	_ = viper.BindEnv("STORE_BACKEND")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "RELAYER_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("LEDGER_CALL_TIMEOUT")
	_ = viper.BindEnv("LEDGER_SUBMIT_RPC")
	_ = viper.BindEnv("LEDGER_HEIGHT_CACHE_TTL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("INTAKE_QUEUE")
	_ = viper.BindEnv("INTAKE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("ASSET_CATALOG_PATH")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FILE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	normalize(&config)
	return
}

func normalize(config *Config) {
	config.ServerPort = strings.TrimSpace(config.ServerPort)
	if config.ServerPort == "" {
		config.ServerPort = "8787"
	}

	config.APIKey = strings.TrimSpace(config.APIKey)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)
	config.RelayerSeed = strings.TrimSpace(config.RelayerSeed)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.IntakeQueue = strings.TrimSpace(config.IntakeQueue)
	config.AssetCatalogPath = strings.TrimSpace(config.AssetCatalogPath)
	config.LogFile = strings.TrimSpace(config.LogFile)

	config.TxPallet = strings.TrimSpace(config.TxPallet)
	if config.TxPallet == "" {
		config.TxPallet = "remitchain"
	}
	config.TxMethod = strings.TrimSpace(config.TxMethod)
	if config.TxMethod == "" {
		config.TxMethod = "sendRemittanceGasless"
	}

	config.SignatureScheme = strings.ToLower(strings.TrimSpace(config.SignatureScheme))
	switch config.SignatureScheme {
	case SchemeSecp256k1, SchemeEd25519:
	default:
		log.Printf("level=warn component=config msg=\"unknown signature scheme; falling back to secp256k1\" scheme=%q", config.SignatureScheme)
		config.SignatureScheme = SchemeSecp256k1
	}

	if config.MaxRetries < 0 {
		log.Printf("level=warn component=config msg=\"negative max retries configured; coercing to zero\" max_retries=%d", config.MaxRetries)
		config.MaxRetries = 0
	}
	if config.IdempotencyTTLSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive idempotency ttl configured; using default\" ttl_seconds=%d", config.IdempotencyTTLSeconds)
		config.IdempotencyTTLSeconds = 3600
	}

	config.ChainID = strings.TrimSpace(config.ChainID)
	if _, parseErr := strconv.ParseUint(config.ChainID, 10, 64); parseErr != nil {
		log.Printf("level=warn component=config msg=\"invalid chain id; using default\" value=%q err=%v", config.ChainID, parseErr)
		config.ChainID = "1337"
	}
	config.SigningDomain = strings.TrimSpace(config.SigningDomain)
	if config.SigningDomain == "" {
		config.SigningDomain = "remitchain"
	}
	config.SigningAction = strings.TrimSpace(config.SigningAction)
	if config.SigningAction == "" {
		config.SigningAction = "send"
	}

	if config.WorkerInterval < time.Second {
		// The worker schedule has one-second resolution.
		if config.WorkerInterval > 0 {
			log.Printf("level=warn component=config msg=\"worker interval below 1s; using 1s\" interval=%s", config.WorkerInterval)
		}
		config.WorkerInterval = time.Second
	}
	config.RequeuePolicy = strings.ToLower(strings.TrimSpace(config.RequeuePolicy))
	if config.RequeuePolicy != RequeueTail && config.RequeuePolicy != RequeueHead {
		log.Printf("level=warn component=config msg=\"unknown requeue policy; falling back to tail\" policy=%q", config.RequeuePolicy)
		config.RequeuePolicy = RequeueTail
	}

	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "relayer"
	}

	if config.LedgerCallTimeout <= 0 {
		config.LedgerCallTimeout = 30 * time.Second
	}
	config.LedgerSubmitRPC = strings.TrimSpace(config.LedgerSubmitRPC)
	if config.LedgerSubmitRPC == "" {
		config.LedgerSubmitRPC = "author_submitRelayCall"
	}
	if config.LedgerHeightCacheTTL < 0 {
		config.LedgerHeightCacheTTL = 0
	}

	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = "remitchain.events"
	}
	if config.IntakeRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative intake rate limit configured; disabling limiter\" limit=%d", config.IntakeRateLimitPerMinute)
		config.IntakeRateLimitPerMinute = 0
	}

	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}
