package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWei(t *testing.T) {
	wei, err := ToWei(decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", wei.String())

	_, err = ToWei(decimal.RequireFromString("0.0000000000000000001"))
	assert.Error(t, err)

	_, err = ToWei(decimal.NewFromInt(-1))
	assert.Error(t, err)
}

func TestEscrowID(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	a := EscrowID(owner, 7)
	assert.Equal(t, a, EscrowID(owner, 7))
	assert.NotEqual(t, a, EscrowID(owner, 8))
	assert.NotEqual(t, a, EscrowID(common.HexToAddress("0x00000000000000000000000000000000000000bb"), 7))
}

func TestReferenceHash(t *testing.T) {
	assert.Equal(t, [32]byte{}, ReferenceHash(""))
	a := ReferenceHash("6f1c2a52-8d5e-4f0a-9b0e-3f1d2c4b5a69")
	assert.Equal(t, a, ReferenceHash("6f1c2a52-8d5e-4f0a-9b0e-3f1d2c4b5a69"))
	assert.NotEqual(t, a, ReferenceHash("6f1c2a52-8d5e-4f0a-9b0e-3f1d2c4b5a6a"))
	assert.NotEqual(t, [32]byte{}, a)
}

func TestHashlockABICarriesReference(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(hashlockABI))
	require.NoError(t, err)

	lock := parsed.Methods["lock"]
	require.Len(t, lock.Inputs, 6)
	assert.Equal(t, "ref", lock.Inputs[1].Name)

	var indexed []string
	for _, in := range parsed.Events["Locked"].Inputs {
		if in.Indexed {
			indexed = append(indexed, in.Name)
		}
	}
	// FilterLogs matches the reference as the third topic.
	assert.Equal(t, []string{"id", "owner", "ref"}, indexed)
}

func TestPaymentGas(t *testing.T) {
	assert.Equal(t, uint64(21000), PaymentGas(nil))
	assert.Equal(t, uint64(21000+3*16), PaymentGas([]byte("p-1")))
	assert.Equal(t, uint64(21000+16+4), PaymentGas([]byte{0x01, 0x00}))
}

func TestTxJournal(t *testing.T) {
	j := newTxJournal()
	tx := types.NewTx(&types.LegacyTx{Nonce: 4, Gas: 21000, GasPrice: big.NewInt(1)})
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	_, ok := j.get("batch-1/record-1")
	assert.False(t, ok)

	j.put("batch-1/record-1", pendingTx{tx: tx, owner: owner})
	p, ok := j.get("batch-1/record-1")
	require.True(t, ok)
	assert.Equal(t, tx.Hash(), p.tx.Hash())
	assert.Equal(t, owner, p.owner)

	// no reference means no deduplication
	j.put("", pendingTx{tx: tx})
	_, ok = j.get("")
	assert.False(t, ok)

	j.drop("batch-1/record-1")
	_, ok = j.get("batch-1/record-1")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	assert.True(t, classify(OpLock, context.DeadlineExceeded).Transient)
	e := classify(OpLock, errors.New("execution reverted"))
	assert.False(t, e.Transient)
	assert.Equal(t, "rejected", e.Code)
}

func TestToCoins(t *testing.T) {
	c, err := ToCoins(decimal.RequireFromString("1.2345678919"))
	require.NoError(t, err)
	assert.Equal(t, "1234567891", c.Nano().String())

	_, err = ToCoins(decimal.Zero)
	assert.Error(t, err)
}
