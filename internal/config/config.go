package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	LedgerSimulated = "simulated"
	LedgerEVM       = "evm"
)

type Config struct {
	// Database; empty DSN runs on in-memory stores
	PostgresDSN   string
	RedisURL      string
	MigrationsDir string

	// Ledger
	LedgerBackend string // simulated/evm
	OwnerSeed     string
	PoolWallet    string

	// EVM
	EVMRPCURL          string
	EVMContractAddress string
	EVMPrivateKey      string

	// TON payouts; when enabled, distributions pay out from the TON wallet
	TONEnabled     bool
	TONNetwork     string // mainnet/testnet
	TONWalletSeed  string
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string

	// Escrow
	SecretKeyHex     string
	StuckGrace       time.Duration
	AutoCancelStuck  bool
	StuckSweepPeriod time.Duration
	ClaimTTL         time.Duration // must exceed the slowest ledger confirmation

	// Oracle
	OracleURL              string
	OracleAPIKey           string
	ValidatorKeys          string // "identity=hexkey,..." ed25519 public keys
	OracleRequireSignature bool

	// Distribution / donations
	DistributionPrecision int32
	MaxDonation           decimal.Decimal

	// Auth
	JWTSecret     string
	JWTExpiration time.Duration

	// Rate limiting
	RateLimitPerMinute int

	// Server
	APIPort    string
	WorkerPort string
}

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", LedgerSimulated)),
		OwnerSeed:     getEnv("LEDGER_OWNER_SEED", ""),
		PoolWallet:    getEnv("POOL_WALLET_ADDRESS", ""),

		EVMRPCURL:          getEnv("EVM_RPC_URL", ""),
		EVMContractAddress: getEnv("EVM_ESCROW_CONTRACT", ""),
		EVMPrivateKey:      getEnv("EVM_PRIVATE_KEY", ""),

		TONEnabled:     getEnvBool("TON_PAYOUTS_ENABLED", false),
		TONNetwork:     getEnv("TON_NETWORK", "testnet"),
		TONWalletSeed:  getEnv("TON_WALLET_SEED", ""),
		LiteServerHost: getEnv("LITE_SERVER_HOST", ""),
		LiteServerPort: getEnvInt("LITE_SERVER_PORT", 4443),
		LiteServerKey:  getEnv("LITE_SERVER_KEY", ""),

		SecretKeyHex:     getEnv("ESCROW_SECRET_KEY", ""),
		StuckGrace:       time.Duration(getEnvInt("STUCK_GRACE_MINUTES", 60)) * time.Minute,
		AutoCancelStuck:  getEnvBool("AUTO_CANCEL_STUCK", false),
		StuckSweepPeriod: time.Duration(getEnvInt("STUCK_SWEEP_SECONDS", 300)) * time.Second,
		ClaimTTL:         time.Duration(getEnvInt("ESCROW_CLAIM_SECONDS", 120)) * time.Second,

		OracleURL:              getEnv("ORACLE_URL", ""),
		OracleAPIKey:           getEnv("ORACLE_API_KEY", ""),
		ValidatorKeys:          getEnv("ORACLE_VALIDATOR_KEYS", ""),
		OracleRequireSignature: getEnvBool("ORACLE_REQUIRE_SIGNATURE", false),

		DistributionPrecision: int32(getEnvInt("DISTRIBUTION_PRECISION", 6)),
		MaxDonation:           getEnvDecimal("MAX_DONATION", decimal.NewFromInt(1_000_000)),

		JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
		JWTExpiration: time.Duration(getEnvInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		APIPort:    getEnv("API_PORT", "3000"),
		WorkerPort: getEnv("WORKER_PORT", "3001"),
	}

	return cfg
}

func (c *Config) Validate(log *zap.Logger) {
	if c.JWTSecret == "change-me-in-production" {
		log.Warn("JWT_SECRET is default, change in production")
	}
	if c.SecretKeyHex == "" {
		log.Warn("ESCROW_SECRET_KEY is not set, sealed secrets will not survive a restart")
	}
	if c.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN is not set, using in-memory stores")
	}
	if c.LedgerBackend == LedgerSimulated {
		log.Warn("using the simulated ledger")
	}
	if c.OracleRequireSignature && c.ValidatorKeys == "" {
		log.Warn("ORACLE_REQUIRE_SIGNATURE is set but no validator keys are configured")
	}
	if c.DistributionPrecision < 0 || c.DistributionPrecision > 18 {
		log.Warn("DISTRIBUTION_PRECISION out of range, using 6", zap.Int32("value", c.DistributionPrecision))
		c.DistributionPrecision = 6
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return v
}
