// Package condition implements PreimageSha256 crypto-conditions: the
// hashlock a ledger escrow is bound to and the fulfillment that opens it.
//
// Encoding follows the crypto-conditions DER layout used by XRPL escrows:
//
//	condition   = A0 len [ 80 20 sha256(preimage) ] [ 81 len cost ]
//	fulfillment = A0 len [ 80 len preimage ]
//
// cost is the preimage length in bytes.
package condition

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SecretSize is the length of generated secrets.
const SecretSize = 32

const (
	tagPreimageSha256 = 0xA0
	tagPrimitive0     = 0x80
	tagPrimitive1     = 0x81
	fingerprintSize   = sha256.Size
)

var (
	ErrEntropy   = errors.New("condition: entropy source unavailable")
	ErrMalformed = errors.New("condition: malformed encoding")
)

// Secret is the preimage held by the oracle until release.
type Secret []byte

// String never prints the preimage.
func (s Secret) String() string { return "[redacted]" }

// GoString keeps %#v from leaking the preimage.
func (s Secret) GoString() string { return "condition.Secret([redacted])" }

// GenerateSecret returns SecretSize bytes from the platform CSPRNG.
func GenerateSecret() (Secret, error) {
	return generateFrom(rand.Reader)
}

func generateFrom(r io.Reader) (Secret, error) {
	s := make(Secret, SecretSize)
	if _, err := io.ReadFull(r, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return s, nil
}

// Commitment is the public half of the hashlock.
type Commitment struct {
	Fingerprint [fingerprintSize]byte
	Cost        uint64
}

// CommitmentOf derives the commitment from the secret alone.
func CommitmentOf(s Secret) Commitment {
	return Commitment{
		Fingerprint: sha256.Sum256(s),
		Cost:        uint64(len(s)),
	}
}

// Binary returns the DER condition.
func (c Commitment) Binary() []byte {
	cost := encodeUint(c.Cost)

	body := make([]byte, 0, 2+fingerprintSize+2+len(cost))
	body = append(body, tagPrimitive0, fingerprintSize)
	body = append(body, c.Fingerprint[:]...)
	body = append(body, tagPrimitive1)
	body = appendLength(body, len(cost))
	body = append(body, cost...)

	out := []byte{tagPreimageSha256}
	out = appendLength(out, len(body))
	return append(out, body...)
}

// String returns the condition as upper-case hex, the form ledgers expect.
func (c Commitment) String() string {
	return strings.ToUpper(hex.EncodeToString(c.Binary()))
}

func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Commitment) UnmarshalText(b []byte) error {
	parsed, err := ParseCondition(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Equal compares fingerprints in constant time.
func (c Commitment) Equal(o Commitment) bool {
	return subtle.ConstantTimeCompare(c.Fingerprint[:], o.Fingerprint[:]) == 1 && c.Cost == o.Cost
}

// IsZero reports whether c was never set.
func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

// Proof is the fulfillment disclosing a secret.
type Proof struct {
	preimage []byte
}

// ProofOf wraps the secret into a fulfillment.
func ProofOf(s Secret) Proof {
	p := make([]byte, len(s))
	copy(p, s)
	return Proof{preimage: p}
}

// Binary returns the DER fulfillment.
func (p Proof) Binary() []byte {
	body := []byte{tagPrimitive0}
	body = appendLength(body, len(p.preimage))
	body = append(body, p.preimage...)

	out := []byte{tagPreimageSha256}
	out = appendLength(out, len(body))
	return append(out, body...)
}

// String returns the fulfillment as upper-case hex.
func (p Proof) String() string {
	return strings.ToUpper(hex.EncodeToString(p.Binary()))
}

// Secret returns a copy of the disclosed preimage.
func (p Proof) Secret() Secret {
	s := make(Secret, len(p.preimage))
	copy(s, p.preimage)
	return s
}

// Commitment returns the condition this proof fulfills.
func (p Proof) Commitment() Commitment {
	return CommitmentOf(p.preimage)
}

// AuditHash is the SHA-256 of the serialized fulfillment, kept after release
// in place of the secret.
func (p Proof) AuditHash() string {
	sum := sha256.Sum256(p.Binary())
	return hex.EncodeToString(sum[:])
}

// Verify reports whether secret opens commitment.
func Verify(s Secret, c Commitment) bool {
	return CommitmentOf(s).Equal(c)
}

// ParseCondition decodes a hex DER condition.
func ParseCondition(s string) (Commitment, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Commitment{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ParseConditionBinary(raw)
}

// ParseConditionBinary decodes a DER condition.
func ParseConditionBinary(raw []byte) (Commitment, error) {
	body, err := unwrap(raw, tagPreimageSha256)
	if err != nil {
		return Commitment{}, err
	}

	fp, rest, err := readField(body, tagPrimitive0)
	if err != nil {
		return Commitment{}, err
	}
	if len(fp) != fingerprintSize {
		return Commitment{}, fmt.Errorf("%w: fingerprint is %d bytes", ErrMalformed, len(fp))
	}

	costBytes, rest, err := readField(rest, tagPrimitive1)
	if err != nil {
		return Commitment{}, err
	}
	if len(rest) != 0 {
		return Commitment{}, fmt.Errorf("%w: trailing bytes", ErrMalformed)
	}
	cost, err := decodeUint(costBytes)
	if err != nil {
		return Commitment{}, err
	}

	var c Commitment
	copy(c.Fingerprint[:], fp)
	c.Cost = cost
	return c, nil
}

// ParseFulfillment decodes a DER fulfillment.
func ParseFulfillment(raw []byte) (Proof, error) {
	body, err := unwrap(raw, tagPreimageSha256)
	if err != nil {
		return Proof{}, err
	}
	preimage, rest, err := readField(body, tagPrimitive0)
	if err != nil {
		return Proof{}, err
	}
	if len(rest) != 0 {
		return Proof{}, fmt.Errorf("%w: trailing bytes", ErrMalformed)
	}
	return ProofOf(preimage), nil
}

func unwrap(raw []byte, tag byte) ([]byte, error) {
	body, rest, err := readField(raw, tag)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformed)
	}
	return body, nil
}

func readField(b []byte, tag byte) (value, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("%w: truncated", ErrMalformed)
	}
	if b[0] != tag {
		return nil, nil, fmt.Errorf("%w: tag %#x, want %#x", ErrMalformed, b[0], tag)
	}
	n, used, err := readLength(b[1:])
	if err != nil {
		return nil, nil, err
	}
	start := 1 + used
	if n > len(b)-start {
		return nil, nil, fmt.Errorf("%w: length %d exceeds input", ErrMalformed, n)
	}
	return b[start : start+n], b[start+n:], nil
}

func appendLength(b []byte, n int) []byte {
	if n < 0x80 {
		return append(b, byte(n))
	}
	var tmp [8]byte
	i := len(tmp)
	for v := n; v > 0; v >>= 8 {
		i--
		tmp[i] = byte(v)
	}
	b = append(b, 0x80|byte(len(tmp)-i))
	return append(b, tmp[i:]...)
}

func readLength(b []byte) (n, used int, err error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("%w: missing length", ErrMalformed)
	}
	if b[0] < 0x80 {
		return int(b[0]), 1, nil
	}
	size := int(b[0] & 0x7f)
	if size == 0 || size > 4 || len(b) < 1+size {
		return 0, 0, fmt.Errorf("%w: bad long-form length", ErrMalformed)
	}
	for _, c := range b[1 : 1+size] {
		n = n<<8 | int(c)
	}
	if n < 0x80 {
		return 0, 0, fmt.Errorf("%w: non-minimal length", ErrMalformed)
	}
	return n, 1 + size, nil
}

// encodeUint is the minimal DER INTEGER encoding of a non-negative value.
func encodeUint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var tmp [9]byte
	i := len(tmp)
	for ; v > 0; v >>= 8 {
		i--
		tmp[i] = byte(v)
	}
	if tmp[i]&0x80 != 0 {
		i--
		tmp[i] = 0
	}
	return append([]byte(nil), tmp[i:]...)
}

func decodeUint(b []byte) (uint64, error) {
	if len(b) == 0 || len(b) > 9 || (len(b) == 9 && b[0] != 0) {
		return 0, fmt.Errorf("%w: cost out of range", ErrMalformed)
	}
	if b[0]&0x80 != 0 {
		return 0, fmt.Errorf("%w: negative cost", ErrMalformed)
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}
