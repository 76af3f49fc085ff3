package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impact-escrow/backend/internal/condition"
)

const beneficiary = "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe"

func lockFixture(t *testing.T, sim *Simulated, secret condition.Secret, cancelAfter time.Time) LockConfirmation {
	t.Helper()
	conf, err := sim.SubmitLock(context.Background(), LockRequest{
		OwnerSeed:   "sEdOwnerSeed",
		Amount:      decimal.NewFromInt(25),
		Condition:   condition.CommitmentOf(secret).Binary(),
		Beneficiary: beneficiary,
		CancelAfter: cancelAfter,
		Reference:   "escrow-1",
	})
	require.NoError(t, err)
	return conf
}

func TestAddressFromSeed(t *testing.T) {
	sim := NewSimulated()
	a := AddressFromSeed("seed-a")
	assert.True(t, sim.ValidAddress(a), a)
	assert.Equal(t, a, AddressFromSeed("seed-a"))
	assert.NotEqual(t, a, AddressFromSeed("seed-b"))

	assert.True(t, sim.ValidAddress(beneficiary))
	assert.False(t, sim.ValidAddress("0x1234"))
	assert.False(t, sim.ValidAddress("rShort"))
}

func TestSimulatedLockUnlock(t *testing.T) {
	sim := NewSimulated()
	secret := condition.Secret("s1")
	conf := lockFixture(t, sim, secret, time.Now().Add(time.Hour))

	assert.Equal(t, AddressFromSeed("sEdOwnerSeed"), conf.Owner)
	assert.EqualValues(t, 1, conf.Sequence)
	assert.True(t, sim.Open(conf.Owner, conf.Sequence))

	// wrong preimage
	_, err := sim.SubmitUnlock(context.Background(), UnlockRequest{
		Owner: conf.Owner, Sequence: conf.Sequence,
		Fulfillment: condition.ProofOf(condition.Secret("s2")).Binary(),
	})
	require.Error(t, err)
	assert.Equal(t, CodeConditionError, CodeOf(err))
	assert.False(t, IsTransient(err))

	_, err = sim.SubmitUnlock(context.Background(), UnlockRequest{
		Owner: conf.Owner, Sequence: conf.Sequence,
		Condition:   condition.CommitmentOf(secret).Binary(),
		Fulfillment: condition.ProofOf(secret).Binary(),
	})
	require.NoError(t, err)
	assert.False(t, sim.Open(conf.Owner, conf.Sequence))

	// closed escrow
	_, err = sim.SubmitUnlock(context.Background(), UnlockRequest{
		Owner: conf.Owner, Sequence: conf.Sequence,
		Fulfillment: condition.ProofOf(secret).Binary(),
	})
	assert.Equal(t, CodeNoTarget, CodeOf(err))
}

func TestSimulatedLockIsIdempotentByReference(t *testing.T) {
	sim := NewSimulated()
	secret := condition.Secret("s1")
	first := lockFixture(t, sim, secret, time.Now().Add(time.Hour))
	second := lockFixture(t, sim, secret, time.Now().Add(time.Hour))
	assert.Equal(t, first, second)
	assert.Equal(t, 2, sim.Calls(OpLock))
}

func TestSimulatedUnlockAfterCancelAfter(t *testing.T) {
	now := time.Now()
	sim := NewSimulated().WithClock(func() time.Time { return now })
	secret := condition.Secret("s1")
	conf := lockFixture(t, sim, secret, now.Add(time.Minute))

	now = now.Add(2 * time.Minute)
	_, err := sim.SubmitUnlock(context.Background(), UnlockRequest{
		Owner: conf.Owner, Sequence: conf.Sequence,
		Fulfillment: condition.ProofOf(secret).Binary(),
	})
	assert.Equal(t, CodeNoPermission, CodeOf(err))

	_, err = sim.SubmitCancel(context.Background(), CancelRequest{Owner: conf.Owner, Sequence: conf.Sequence})
	require.NoError(t, err)
}

func TestSimulatedFaultInjection(t *testing.T) {
	sim := NewSimulated()
	sim.FailNext(OpPayment, Unavailable(OpPayment, errors.New("timeout")))

	req := PaymentRequest{To: beneficiary, Amount: decimal.NewFromInt(1), Reference: "p-1"}
	_, err := sim.SubmitPayment(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Empty(t, sim.Payments())

	conf, err := sim.SubmitPayment(context.Background(), req)
	require.NoError(t, err)
	again, err := sim.SubmitPayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, conf, again)
	assert.Len(t, sim.Payments(), 1)
	assert.Equal(t, 3, sim.Calls(OpPayment))
}

func TestSimulatedRejectsBadPayments(t *testing.T) {
	sim := NewSimulated()
	_, err := sim.SubmitPayment(context.Background(), PaymentRequest{To: "nope", Amount: decimal.NewFromInt(1)})
	assert.Equal(t, CodeNoDestination, CodeOf(err))

	_, err = sim.SubmitPayment(context.Background(), PaymentRequest{To: beneficiary, Amount: decimal.Zero})
	assert.Equal(t, CodeBadAmount, CodeOf(err))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(Unavailable(OpLock, errors.New("x"))))
	assert.False(t, IsTransient(Rejected(OpLock, CodeMalformed)))
	assert.False(t, IsTransient(errors.New("other")))
}
