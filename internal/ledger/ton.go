package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

const tonDecimals = 9

type TONConfig struct {
	Network        string // mainnet / testnet
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string
	WalletSeed     string // space separated mnemonic
}

// TONPayer pays recipients from a V4R2 hot wallet. It only implements Payer.
type TONPayer struct {
	wallet *wallet.Wallet
	log    *zap.Logger
}

func NewTONPayer(ctx context.Context, cfg TONConfig, log *zap.Logger) (*TONPayer, error) {
	words := strings.Fields(cfg.WalletSeed)
	if len(words) == 0 {
		return nil, fmt.Errorf("ton wallet seed is required")
	}

	api, err := connectToTON(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	w, err := wallet.FromSeed(api, words, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("open ton wallet: %w", err)
	}

	log.Info("ton payout wallet ready", zap.String("address", w.WalletAddress().String()))
	return &TONPayer{wallet: w, log: log}, nil
}

// connectToTON uses the configured lite server when set, otherwise the
// network's global config.
func connectToTON(ctx context.Context, cfg TONConfig, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := "https://ton.org/testnet-global.config.json"
		if strings.EqualFold(cfg.Network, "mainnet") {
			configURL = "https://ton.org/global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	policy := ton.ProofCheckPolicyFast
	if strings.EqualFold(cfg.Network, "mainnet") {
		policy = ton.ProofCheckPolicySecure
	}
	return ton.NewAPIClient(client, policy).WithRetry(), nil
}

func (p *TONPayer) ValidAddress(addr string) bool {
	_, err := address.ParseAddr(addr)
	return err == nil
}

// SubmitPayment transfers from the hot wallet and waits for the transaction.
// Reference is sent as the transfer comment.
func (p *TONPayer) SubmitPayment(ctx context.Context, req PaymentRequest) (Confirmation, error) {
	if req.From != "" && req.From != p.wallet.WalletAddress().String() {
		return Confirmation{}, Rejected(OpPayment, "from_mismatch")
	}
	to, err := address.ParseAddr(req.To)
	if err != nil {
		return Confirmation{}, Rejected(OpPayment, "bad_destination")
	}
	coins, err := ToCoins(req.Amount)
	if err != nil {
		return Confirmation{}, Rejected(OpPayment, "bad_amount")
	}

	tx, _, err := p.wallet.TransferWaitTransaction(ctx, to, coins, req.Reference)
	if err != nil {
		p.log.Warn("ton transfer failed",
			zap.String("to", req.To),
			zap.String("amount", req.Amount.String()),
			zap.Error(err),
		)
		return Confirmation{}, Unavailable(OpPayment, err)
	}
	return Confirmation{ConfirmationID: hex.EncodeToString(tx.Hash)}, nil
}

// ToCoins converts a TON amount, truncated to nanotons.
func ToCoins(amount decimal.Decimal) (tlb.Coins, error) {
	if !amount.IsPositive() {
		return tlb.Coins{}, fmt.Errorf("amount must be positive")
	}
	return tlb.FromTON(amount.Truncate(tonDecimals).String())
}
