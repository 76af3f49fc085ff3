package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/impact-escrow/backend/internal/condition"
)

const rippleAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

var classicAddress = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)

// XRPL result codes returned by the simulated ledger.
const (
	CodeNoTarget         = "tecNO_TARGET"
	CodeNoPermission     = "tecNO_PERMISSION"
	CodeConditionError   = "tecCRYPTOCONDITION_ERROR"
	CodeMalformed        = "temMALFORMED"
	CodeBadAmount        = "temBAD_AMOUNT"
	CodeNoDestination    = "tecNO_DST"
	CodeAlreadyProcessed = "tefALREADY"
)

type simEscrow struct {
	owner       string
	sequence    int64
	amount      decimal.Decimal
	condition   condition.Commitment
	beneficiary string
	finishAfter *time.Time
	cancelAfter time.Time
	closed      bool
}

// Simulated is an in-memory ledger with XRPL escrow semantics. Submissions
// carrying a Reference already seen return the original confirmation.
type Simulated struct {
	mu        sync.Mutex
	now       func() time.Time
	escrows   map[string]*simEscrow
	sequences map[string]int64
	locks     map[string]LockConfirmation
	payments  map[string]Confirmation
	history   []PaymentRequest
	calls     map[string]int
	faults    map[string][]error
	txCounter int
}

func NewSimulated() *Simulated {
	return &Simulated{
		now:       time.Now,
		escrows:   make(map[string]*simEscrow),
		sequences: make(map[string]int64),
		locks:     make(map[string]LockConfirmation),
		payments:  make(map[string]Confirmation),
		calls:     make(map[string]int),
		faults:    make(map[string][]error),
	}
}

// WithClock replaces the ledger close time source.
func (s *Simulated) WithClock(now func() time.Time) *Simulated {
	s.now = now
	return s
}

// FailNext queues err for the next submission of op.
func (s *Simulated) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// Calls counts submissions of op that reached the ledger, failed ones included.
func (s *Simulated) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Payments returns the applied payments in submission order.
func (s *Simulated) Payments() []PaymentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PaymentRequest(nil), s.history...)
}

// AddressFromSeed derives the classic address the simulated ledger assigns to
// an owner seed.
func AddressFromSeed(seed string) string {
	sum := sha256.Sum256([]byte("sim-account:" + seed))
	var b strings.Builder
	b.WriteByte('r')
	for _, c := range sum {
		b.WriteByte(rippleAlphabet[int(c)%len(rippleAlphabet)])
	}
	return b.String()
}

func (s *Simulated) ValidAddress(addr string) bool {
	return classicAddress.MatchString(addr)
}

func (s *Simulated) SubmitLock(_ context.Context, req LockRequest) (LockConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[OpLock]++
	if err := s.popFault(OpLock); err != nil {
		return LockConfirmation{}, err
	}
	if req.Reference != "" {
		if conf, ok := s.locks[req.Reference]; ok {
			return conf, nil
		}
	}

	if req.OwnerSeed == "" {
		return LockConfirmation{}, Rejected(OpLock, CodeMalformed)
	}
	if !req.Amount.IsPositive() {
		return LockConfirmation{}, Rejected(OpLock, CodeBadAmount)
	}
	if !s.ValidAddress(req.Beneficiary) {
		return LockConfirmation{}, Rejected(OpLock, CodeNoDestination)
	}
	cond, err := condition.ParseConditionBinary(req.Condition)
	if err != nil {
		return LockConfirmation{}, Rejected(OpLock, CodeMalformed)
	}
	if !req.CancelAfter.After(s.now()) {
		return LockConfirmation{}, Rejected(OpLock, CodeNoPermission)
	}

	owner := AddressFromSeed(req.OwnerSeed)
	s.sequences[owner]++
	seq := s.sequences[owner]

	s.escrows[escrowKey(owner, seq)] = &simEscrow{
		owner:       owner,
		sequence:    seq,
		amount:      req.Amount,
		condition:   cond,
		beneficiary: req.Beneficiary,
		finishAfter: req.FinishAfter,
		cancelAfter: req.CancelAfter,
	}

	conf := LockConfirmation{ConfirmationID: s.nextTxID(OpLock), Owner: owner, Sequence: seq}
	if req.Reference != "" {
		s.locks[req.Reference] = conf
	}
	return conf, nil
}

func (s *Simulated) SubmitUnlock(_ context.Context, req UnlockRequest) (Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[OpUnlock]++
	if err := s.popFault(OpUnlock); err != nil {
		return Confirmation{}, err
	}

	e, ok := s.escrows[escrowKey(req.Owner, req.Sequence)]
	if !ok || e.closed {
		return Confirmation{}, Rejected(OpUnlock, CodeNoTarget)
	}
	now := s.now()
	if e.finishAfter != nil && now.Before(*e.finishAfter) {
		return Confirmation{}, Rejected(OpUnlock, CodeNoPermission)
	}
	if !now.Before(e.cancelAfter) {
		return Confirmation{}, Rejected(OpUnlock, CodeNoPermission)
	}

	proof, err := condition.ParseFulfillment(req.Fulfillment)
	if err != nil {
		return Confirmation{}, Rejected(OpUnlock, CodeConditionError)
	}
	if !proof.Commitment().Equal(e.condition) {
		return Confirmation{}, Rejected(OpUnlock, CodeConditionError)
	}
	if len(req.Condition) > 0 {
		given, err := condition.ParseConditionBinary(req.Condition)
		if err != nil || !given.Equal(e.condition) {
			return Confirmation{}, Rejected(OpUnlock, CodeConditionError)
		}
	}

	e.closed = true
	return Confirmation{ConfirmationID: s.nextTxID(OpUnlock)}, nil
}

// SubmitCancel returns the escrowed value to its owner. Owner aborts before
// CancelAfter are honored.
func (s *Simulated) SubmitCancel(_ context.Context, req CancelRequest) (Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[OpCancel]++
	if err := s.popFault(OpCancel); err != nil {
		return Confirmation{}, err
	}

	e, ok := s.escrows[escrowKey(req.Owner, req.Sequence)]
	if !ok || e.closed {
		return Confirmation{}, Rejected(OpCancel, CodeNoTarget)
	}
	e.closed = true
	return Confirmation{ConfirmationID: s.nextTxID(OpCancel)}, nil
}

func (s *Simulated) SubmitPayment(_ context.Context, req PaymentRequest) (Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[OpPayment]++
	if err := s.popFault(OpPayment); err != nil {
		return Confirmation{}, err
	}
	if req.Reference != "" {
		if conf, ok := s.payments[req.Reference]; ok {
			return conf, nil
		}
	}

	if !req.Amount.IsPositive() {
		return Confirmation{}, Rejected(OpPayment, CodeBadAmount)
	}
	if !s.ValidAddress(req.To) {
		return Confirmation{}, Rejected(OpPayment, CodeNoDestination)
	}
	if req.From != "" && !s.ValidAddress(req.From) {
		return Confirmation{}, Rejected(OpPayment, CodeMalformed)
	}

	conf := Confirmation{ConfirmationID: s.nextTxID(OpPayment)}
	if req.Reference != "" {
		s.payments[req.Reference] = conf
	}
	s.history = append(s.history, req)
	return conf, nil
}

// Open reports whether the escrow at owner/sequence is still unresolved.
func (s *Simulated) Open(owner string, sequence int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[escrowKey(owner, sequence)]
	return ok && !e.closed
}

func (s *Simulated) popFault(op string) error {
	q := s.faults[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	s.faults[op] = q[1:]
	return err
}

func (s *Simulated) nextTxID(op string) string {
	s.txCounter++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", op, s.txCounter, s.now().UnixNano())))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func escrowKey(owner string, seq int64) string {
	return fmt.Sprintf("%s:%d", owner, seq)
}
