// Package app wires stores, ledger backends and services from config. Both
// the API and the worker build their dependencies here.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/config"
	"github.com/impact-escrow/backend/internal/db"
	"github.com/impact-escrow/backend/internal/events"
	"github.com/impact-escrow/backend/internal/ledger"
	"github.com/impact-escrow/backend/internal/metrics"
	"github.com/impact-escrow/backend/internal/oracle"
	"github.com/impact-escrow/backend/internal/repositories"
	"github.com/impact-escrow/backend/internal/services"
	"github.com/impact-escrow/backend/internal/vault"
)

const (
	defaultOwnerSeed = "impact-escrow-owner"
	defaultPoolSeed  = "impact-escrow-pool"
)

// App holds the wired services and the connections they share.
type App struct {
	Config  *config.Config
	Metrics *metrics.Metrics

	Redis      redis.UniversalClient // nil when REDIS_URL is unset
	Publisher  events.Publisher
	Subscriber events.Subscriber // nil without Redis

	Escrows       *services.EscrowService
	Gate          *services.OracleGate
	Distributions *services.DistributionService
	Donations     *services.DonationService
	Recipients    *services.RecipientService

	OwnerSeed  string
	PoolWallet string

	closers []func()
}

type stores struct {
	escrows    services.EscrowStore
	secrets    services.SecretStore
	verdicts   services.VerdictStore
	recipients services.RecipientStore
	batches    services.DistributionStore
	pools      services.PoolStore
	donors     services.DonorStore
	audit      services.AuditStore
}

// New connects to Postgres and Redis when configured, falling back to
// in-memory stores and an in-memory publisher.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New(reg)}

	st, err := a.openStores(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Publisher = events.NewMemoryPublisher()
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.Redis = rdb
		a.Publisher = events.NewRedisPublisher(rdb, log)
		a.Subscriber = events.NewRedisSubscriber(rdb, log)
	}

	submitter, payer, distPayer, err := a.openLedger(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	sealer, ephemeral, err := vault.NewFromHex(cfg.SecretKeyHex)
	if err != nil {
		a.Close()
		return nil, err
	}
	if ephemeral {
		log.Warn("using an ephemeral secret sealing key")
	}

	validators, err := oracle.ParseValidators(cfg.ValidatorKeys)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("validator keys: %w", err)
	}
	var verifier oracle.Verifier
	if cfg.OracleURL != "" {
		verifier = oracle.NewHTTPVerifier(cfg.OracleURL, cfg.OracleAPIKey, log)
	}

	a.OwnerSeed = cfg.OwnerSeed
	if a.OwnerSeed == "" {
		a.OwnerSeed = defaultOwnerSeed
	}
	a.PoolWallet = cfg.PoolWallet
	if a.PoolWallet == "" {
		if cfg.LedgerBackend != config.LedgerSimulated {
			a.Close()
			return nil, fmt.Errorf("POOL_WALLET_ADDRESS is required for the %s ledger", cfg.LedgerBackend)
		}
		a.PoolWallet = ledger.AddressFromSeed(defaultPoolSeed)
	}

	keeper := services.NewSecretKeeper(st.secrets, sealer)
	a.Escrows = services.NewEscrowService(st.escrows, submitter, keeper, st.audit, a.Publisher, a.Metrics,
		cfg.StuckGrace, cfg.ClaimTTL, log)
	a.Gate = services.NewOracleGate(a.Escrows, keeper, st.verdicts, verifier, validators, cfg.OracleRequireSignature,
		a.Publisher, a.Metrics, log)
	a.Distributions = services.NewDistributionService(st.recipients, st.batches, st.pools, distPayer, st.audit, a.Publisher,
		a.Metrics, a.PoolWallet, cfg.DistributionPrecision, log)
	a.Donations = services.NewDonationService(st.donors, st.pools, payer, st.audit, a.Publisher, a.Metrics,
		a.PoolWallet, cfg.MaxDonation, log)
	a.Recipients = services.NewRecipientService(st.recipients, distPayer, st.audit, log)

	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.PostgresDSN == "" {
		return &stores{
			escrows:    repositories.NewMemoryEscrowRepo(),
			secrets:    repositories.NewMemorySecretRepo(),
			verdicts:   repositories.NewMemoryVerdictRepo(),
			recipients: repositories.NewMemoryRecipientRepo(),
			batches:    repositories.NewMemoryDistributionRepo(),
			pools:      repositories.NewMemoryPoolRepo(),
			donors:     repositories.NewMemoryDonorRepo(),
			audit:      repositories.NewMemoryAuditRepo(),
		}, nil
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return postgresStores(pool), nil
}

func postgresStores(pool *pgxpool.Pool) *stores {
	return &stores{
		escrows:    repositories.NewEscrowRepo(pool),
		secrets:    repositories.NewSecretRepo(pool),
		verdicts:   repositories.NewVerdictRepo(pool),
		recipients: repositories.NewRecipientRepo(pool),
		batches:    repositories.NewDistributionRepo(pool),
		pools:      repositories.NewPoolRepo(pool),
		donors:     repositories.NewDonorRepo(pool),
		audit:      repositories.NewAuditRepo(pool),
	}
}

// openLedger returns the escrow submitter, the donation payer and the
// distribution payer. TON payouts replace only the last.
func (a *App) openLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (ledger.EscrowSubmitter, ledger.Payer, ledger.Payer, error) {
	var client ledger.Client
	switch cfg.LedgerBackend {
	case config.LedgerSimulated:
		client = ledger.NewSimulated()
	case config.LedgerEVM:
		evm, err := ledger.NewEVMClient(ctx, ledger.EVMConfig{
			RPCURL:          cfg.EVMRPCURL,
			PrivateKeyHex:   cfg.EVMPrivateKey,
			ContractAddress: cfg.EVMContractAddress,
		}, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("evm ledger: %w", err)
		}
		client = evm
	default:
		return nil, nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}

	var distPayer ledger.Payer = client
	if cfg.TONEnabled {
		ton, err := ledger.NewTONPayer(ctx, ledger.TONConfig{
			Network:        cfg.TONNetwork,
			LiteServerHost: cfg.LiteServerHost,
			LiteServerPort: cfg.LiteServerPort,
			LiteServerKey:  cfg.LiteServerKey,
			WalletSeed:     cfg.TONWalletSeed,
		}, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("ton payer: %w", err)
		}
		distPayer = ton
	}
	log.Info("ledger ready", zap.String("backend", cfg.LedgerBackend), zap.Bool("ton_payouts", cfg.TONEnabled))
	return client, client, distPayer, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
