package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/condition"
)

// hashlockABI is the minimal interface of the HTLC escrow contract. Escrow ids
// are keccak256(owner, nonce) where nonce is the owner's nonce of the lock tx.
// ref is keccak256 of the caller reference; the contract rejects a ref it has
// already locked.
const hashlockABI = `[
	{"type":"function","name":"lock","stateMutability":"payable","inputs":[
		{"name":"id","type":"bytes32"},
		{"name":"ref","type":"bytes32"},
		{"name":"beneficiary","type":"address"},
		{"name":"hashlock","type":"bytes32"},
		{"name":"finishAfter","type":"uint256"},
		{"name":"cancelAfter","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"unlock","stateMutability":"nonpayable","inputs":[
		{"name":"id","type":"bytes32"},
		{"name":"preimage","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[
		{"name":"id","type":"bytes32"}],"outputs":[]},
	{"type":"event","name":"Locked","anonymous":false,"inputs":[
		{"name":"id","type":"bytes32","indexed":true},
		{"name":"owner","type":"address","indexed":true},
		{"name":"ref","type":"bytes32","indexed":true},
		{"name":"beneficiary","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"hashlock","type":"bytes32","indexed":false}]}
]`

const (
	weiDecimals = 18

	transferGas    = 21000
	zeroByteGas    = 4
	nonZeroByteGas = 16
)

type EVMConfig struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
}

// EVMClient submits escrows to a hashlock contract and pays with native
// transfers. Sequence is the owner nonce of the lock transaction.
//
// Locks and payments carrying a Reference are sent at most once: a retry
// waits on the journaled transaction, and a lock also reconciles against the
// contract's Locked events so a restart cannot fund the same escrow twice.
type EVMClient struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	abi      abi.ABI
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	log      *zap.Logger

	// one in-flight tx per sender keeps nonces ordered
	mu sync.Mutex

	locks *txJournal
	// TODO: persist payment journal entries so a restart cannot resend a
	// payment whose first attempt is still pending.
	payments *txJournal
}

type lockedEvent struct {
	Id          [32]byte
	Owner       common.Address
	Ref         [32]byte
	Beneficiary common.Address
	Amount      *big.Int
	Hashlock    [32]byte
}

func NewEVMClient(ctx context.Context, cfg EVMConfig, log *zap.Logger) (*EVMClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("escrow contract address is required")
	}
	key, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(hashlockABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	addr := common.HexToAddress(cfg.ContractAddress)
	return &EVMClient{
		client:   cli,
		contract: bind.NewBoundContract(addr, parsed, cli, cli, cli),
		address:  addr,
		abi:      parsed,
		chainID:  chainID,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		log:      log,
		locks:    newTxJournal(),
		payments: newTxJournal(),
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EVMClient) ValidAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

// SubmitLock signs with OwnerSeed when it holds a hex key, otherwise with the
// configured key.
func (c *EVMClient) SubmitLock(ctx context.Context, req LockRequest) (LockConfirmation, error) {
	key := c.key
	if req.OwnerSeed != "" {
		k, err := parsePrivateKey(req.OwnerSeed)
		if err != nil {
			return LockConfirmation{}, Rejected(OpLock, "bad_owner_key")
		}
		key = k
	}
	if !c.ValidAddress(req.Beneficiary) {
		return LockConfirmation{}, Rejected(OpLock, "bad_beneficiary")
	}
	cond, err := condition.ParseConditionBinary(req.Condition)
	if err != nil {
		return LockConfirmation{}, Rejected(OpLock, "bad_condition")
	}
	value, err := ToWei(req.Amount)
	if err != nil {
		return LockConfirmation{}, Rejected(OpLock, "bad_amount")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ref := ReferenceHash(req.Reference)
	if req.Reference != "" {
		conf, done, err := c.resumeLock(ctx, req.Reference, ref)
		if err != nil || done {
			return conf, err
		}
	}

	owner := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.client.PendingNonceAt(ctx, owner)
	if err != nil {
		return LockConfirmation{}, Unavailable(OpLock, err)
	}
	id := EscrowID(owner, int64(nonce))

	var finishAfter int64
	if req.FinishAfter != nil {
		finishAfter = req.FinishAfter.Unix()
	}

	opts, err := c.transactor(ctx, key)
	if err != nil {
		return LockConfirmation{}, err
	}
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.Value = value

	tx, err := c.contract.Transact(opts, "lock", id, ref, common.HexToAddress(req.Beneficiary),
		cond.Fingerprint, big.NewInt(finishAfter), big.NewInt(req.CancelAfter.Unix()))
	if err != nil {
		return LockConfirmation{}, classify(OpLock, err)
	}
	sent := pendingTx{tx: tx, owner: owner}
	if req.Reference != "" {
		c.locks.put(req.Reference, sent)
	}

	receipt, err := c.waitMined(ctx, OpLock, tx)
	if err != nil {
		if !IsTransient(err) {
			c.locks.drop(req.Reference)
		}
		return LockConfirmation{}, err
	}
	conf, err := c.lockedBy(receipt, sent)
	if err != nil {
		return LockConfirmation{}, err
	}
	c.locks.drop(req.Reference)

	c.log.Info("escrow locked on chain",
		zap.String("tx", conf.ConfirmationID),
		zap.String("owner", conf.Owner),
		zap.Int64("nonce", conf.Sequence),
	)
	return conf, nil
}

// resumeLock finds an earlier lock for reference. The bool reports that the
// caller must not send a new lock tx: either the confirmation is the earlier
// lock or the error says its fate is still unknown.
func (c *EVMClient) resumeLock(ctx context.Context, reference string, ref [32]byte) (LockConfirmation, bool, error) {
	if p, ok := c.locks.get(reference); ok {
		receipt, resend, err := c.await(ctx, OpLock, p)
		if err != nil {
			return LockConfirmation{}, true, err
		}
		c.locks.drop(reference)
		if !resend {
			conf, err := c.lockedBy(receipt, p)
			return conf, true, err
		}
		c.log.Warn("journaled lock did not land, resending",
			zap.String("reference", reference),
			zap.String("tx", p.tx.Hash().Hex()),
		)
	}

	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{c.abi.Events["Locked"].ID}, nil, nil, {common.Hash(ref)}},
	})
	if err != nil {
		return LockConfirmation{}, true, Unavailable(OpLock, err)
	}
	for _, l := range logs {
		if l.Removed || len(l.Topics) < 4 {
			continue
		}
		tx, _, err := c.client.TransactionByHash(ctx, l.TxHash)
		if err != nil {
			return LockConfirmation{}, true, Unavailable(OpLock, err)
		}
		c.log.Info("escrow lock found on chain",
			zap.String("reference", reference),
			zap.String("tx", l.TxHash.Hex()),
		)
		return LockConfirmation{
			ConfirmationID: l.TxHash.Hex(),
			Owner:          common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
			Sequence:       int64(tx.Nonce()),
		}, true, nil
	}
	return LockConfirmation{}, false, nil
}

func (c *EVMClient) lockedBy(receipt *types.Receipt, p pendingTx) (LockConfirmation, error) {
	nonce := int64(p.tx.Nonce())
	if err := c.checkLocked(receipt, EscrowID(p.owner, nonce)); err != nil {
		return LockConfirmation{}, err
	}
	return LockConfirmation{
		ConfirmationID: p.tx.Hash().Hex(),
		Owner:          p.owner.Hex(),
		Sequence:       nonce,
	}, nil
}

func (c *EVMClient) SubmitUnlock(ctx context.Context, req UnlockRequest) (Confirmation, error) {
	proof, err := condition.ParseFulfillment(req.Fulfillment)
	if err != nil {
		return Confirmation{}, Rejected(OpUnlock, "bad_fulfillment")
	}
	if !common.IsHexAddress(req.Owner) {
		return Confirmation{}, Rejected(OpUnlock, "bad_owner")
	}
	id := EscrowID(common.HexToAddress(req.Owner), req.Sequence)
	return c.call(ctx, OpUnlock, "unlock", id, []byte(proof.Secret()))
}

func (c *EVMClient) SubmitCancel(ctx context.Context, req CancelRequest) (Confirmation, error) {
	if !common.IsHexAddress(req.Owner) {
		return Confirmation{}, Rejected(OpCancel, "bad_owner")
	}
	id := EscrowID(common.HexToAddress(req.Owner), req.Sequence)
	return c.call(ctx, OpCancel, "cancel", id)
}

// SubmitPayment sends a native transfer from the configured key. From, when
// set, must be that key's address.
func (c *EVMClient) SubmitPayment(ctx context.Context, req PaymentRequest) (Confirmation, error) {
	if req.From != "" && !strings.EqualFold(req.From, c.from.Hex()) {
		return Confirmation{}, Rejected(OpPayment, "from_mismatch")
	}
	if !c.ValidAddress(req.To) {
		return Confirmation{}, Rejected(OpPayment, "bad_destination")
	}
	value, err := ToWei(req.Amount)
	if err != nil || value.Sign() <= 0 {
		return Confirmation{}, Rejected(OpPayment, "bad_amount")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.payments.get(req.Reference); ok {
		_, resend, err := c.await(ctx, OpPayment, p)
		if err != nil {
			return Confirmation{}, err
		}
		if !resend {
			return Confirmation{ConfirmationID: p.tx.Hash().Hex()}, nil
		}
		c.payments.drop(req.Reference)
		c.log.Warn("journaled payment did not land, resending",
			zap.String("reference", req.Reference),
			zap.String("tx", p.tx.Hash().Hex()),
		)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return Confirmation{}, Unavailable(OpPayment, err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return Confirmation{}, Unavailable(OpPayment, err)
	}

	to := common.HexToAddress(req.To)
	data := []byte(req.Reference)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      PaymentGas(data),
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return Confirmation{}, fmt.Errorf("sign payment: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return Confirmation{}, classify(OpPayment, err)
	}
	if req.Reference != "" {
		c.payments.put(req.Reference, pendingTx{tx: signed, owner: c.from})
	}
	if _, err := c.waitMined(ctx, OpPayment, signed); err != nil {
		if !IsTransient(err) {
			c.payments.drop(req.Reference)
		}
		return Confirmation{}, err
	}
	return Confirmation{ConfirmationID: signed.Hash().Hex()}, nil
}

func (c *EVMClient) call(ctx context.Context, op, method string, args ...any) (Confirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts, err := c.transactor(ctx, c.key)
	if err != nil {
		return Confirmation{}, err
	}
	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return Confirmation{}, classify(op, err)
	}
	if _, err := c.waitMined(ctx, op, tx); err != nil {
		return Confirmation{}, err
	}
	return Confirmation{ConfirmationID: tx.Hash().Hex()}, nil
}

func (c *EVMClient) transactor(ctx context.Context, key *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (c *EVMClient) waitMined(ctx context.Context, op string, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, Unavailable(op, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, Rejected(op, "reverted")
	}
	return receipt, nil
}

// await settles a journaled tx. resend reports that it can no longer land:
// it reverted, or its nonce was consumed by another tx.
func (c *EVMClient) await(ctx context.Context, op string, p pendingTx) (*types.Receipt, bool, error) {
	receipt, err := c.client.TransactionReceipt(ctx, p.tx.Hash())
	if errors.Is(err, ethereum.NotFound) {
		nonce, nerr := c.client.NonceAt(ctx, p.owner, nil)
		if nerr != nil {
			return nil, false, Unavailable(op, nerr)
		}
		if nonce > p.tx.Nonce() {
			// mined between the two reads, or replaced
			receipt, err = c.client.TransactionReceipt(ctx, p.tx.Hash())
			if errors.Is(err, ethereum.NotFound) {
				return nil, true, nil
			}
		} else {
			receipt, err = bind.WaitMined(ctx, c.client, p.tx)
		}
	}
	if err != nil {
		return nil, false, Unavailable(op, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, true, nil
	}
	return receipt, false, nil
}

func (c *EVMClient) checkLocked(receipt *types.Receipt, id [32]byte) error {
	event := c.abi.Events["Locked"]
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		var ev lockedEvent
		if err := c.contract.UnpackLog(&ev, "Locked", *l); err != nil {
			return fmt.Errorf("unpack Locked: %w", err)
		}
		if ev.Id == id {
			return nil
		}
	}
	return Rejected(OpLock, "missing_locked_event")
}

// EscrowID is keccak256(owner, uint256(sequence)).
func EscrowID(owner common.Address, sequence int64) [32]byte {
	return [32]byte(crypto.Keccak256Hash(
		owner.Bytes(),
		common.LeftPadBytes(big.NewInt(sequence).Bytes(), 32),
	))
}

// ReferenceHash is the on-chain form of a lock reference. An empty reference
// maps to the zero hash.
func ReferenceHash(reference string) [32]byte {
	if reference == "" {
		return [32]byte{}
	}
	return [32]byte(crypto.Keccak256Hash([]byte(reference)))
}

// PaymentGas is the intrinsic gas of a plain transfer carrying data.
func PaymentGas(data []byte) uint64 {
	gas := uint64(transferGas)
	for _, b := range data {
		if b == 0 {
			gas += zeroByteGas
		} else {
			gas += nonZeroByteGas
		}
	}
	return gas
}

type pendingTx struct {
	tx    *types.Transaction
	owner common.Address
}

// txJournal tracks sent transactions by caller reference.
type txJournal struct {
	mu      sync.Mutex
	pending map[string]pendingTx
}

func newTxJournal() *txJournal {
	return &txJournal{pending: make(map[string]pendingTx)}
}

func (j *txJournal) get(reference string) (pendingTx, bool) {
	if reference == "" {
		return pendingTx{}, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	p, ok := j.pending[reference]
	return p, ok
}

func (j *txJournal) put(reference string, p pendingTx) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending[reference] = p
}

func (j *txJournal) drop(reference string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.pending, reference)
}

// ToWei converts a decimal amount of the native unit to wei. Fractions below
// one wei are rejected.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	wei := amount.Shift(weiDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, weiDecimals)
	}
	if wei.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", amount)
	}
	return wei.BigInt(), nil
}

func classify(op string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return Unavailable(op, err)
	}
	return &Error{Op: op, Code: "rejected", Err: err}
}
