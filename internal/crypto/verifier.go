package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// --------------------------------------------------------------------------
// Typed-message hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// FlashpoolDomain(string name,string version)
	grantDomainTypeHash = ethcrypto.Keccak256(
		[]byte("FlashpoolDomain(string name,string version)"),
	)

	// Grant(address owner,address delegate,uint256 expiry,uint256 spendLimit,bytes32 eventId,uint256 nonce)
	grantTypeHash = ethcrypto.Keccak256(
		[]byte("Grant(address owner,address delegate,uint256 expiry,uint256 spendLimit,bytes32 eventId,uint256 nonce)"),
	)

	// Cached domain separator; the domain has no deployment-specific fields.
	grantDomainSep = ethcrypto.Keccak256(
		concatBytes(
			grantDomainTypeHash,
			ethcrypto.Keccak256([]byte("FlashpoolGrant")),
			ethcrypto.Keccak256([]byte("1")),
		),
	)
)

// GrantMessage is the structured message an account owner signs to authorize
// a delegation grant out of band. Nonce must strictly increase per signer.
type GrantMessage struct {
	Owner      string `json:"owner"`
	Delegate   string `json:"delegate"`
	Expiry     int64  `json:"expiry"` // unix seconds
	SpendLimit int64  `json:"spendLimit"`
	EventID    string `json:"eventId"` // hex, empty means any event
	Nonce      uint64 `json:"nonce"`
}

// digest computes the signing digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func (m GrantMessage) digest() []byte {
	var eventID [32]byte
	if m.EventID != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(m.EventID, "0x"))
		if err == nil {
			copy(eventID[:], raw)
		}
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			grantTypeHash,
			common.LeftPadBytes(common.HexToAddress(m.Owner).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(m.Delegate).Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(m.Expiry)),
			bigIntTo32Bytes(big.NewInt(m.SpendLimit)),
			eventID[:],
			bigIntTo32Bytes(new(big.Int).SetUint64(m.Nonce)),
		),
	)

	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			grantDomainSep,
			structHash,
		),
	)
}

// signerNonce tracks the highest nonce accepted for one signer. Monotonic,
// never reset.
type signerNonce struct {
	mu   sync.Mutex
	last uint64
	used bool
}

// Verifier recovers the signer identity from signed grant messages and
// rejects nonce replays. One Verifier instance is the process-wide replay
// authority; creating a second one forgets all consumed nonces.
type Verifier struct {
	nonces sync.Map // signer address (lowercase hex) -> *signerNonce
}

// NewVerifier creates an empty verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// VerifyStructuredMessage checks the secp256k1 signature over the message
// digest and returns the recovered signer identity (lowercase 0x address).
// The recovered signer must equal the message owner and the nonce must be
// strictly greater than any nonce previously accepted for that signer;
// otherwise ErrInvalidSignature or ErrNonceReplayed is returned and no nonce
// is consumed.
func (v *Verifier) VerifyStructuredMessage(msg GrantMessage, signatureHex string) (string, error) {
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return "", err
	}

	pub, err := ethcrypto.SigToPub(msg.digest(), sig)
	if err != nil {
		return "", fmt.Errorf("crypto/verifier: %w", domain.ErrInvalidSignature)
	}
	signer := ethcrypto.PubkeyToAddress(*pub)
	identity := strings.ToLower(signer.Hex())

	if signer != common.HexToAddress(msg.Owner) {
		return "", fmt.Errorf("crypto/verifier: signer is not the grant owner: %w", domain.ErrInvalidSignature)
	}

	n := v.nonceFor(identity)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.used && msg.Nonce <= n.last {
		return "", fmt.Errorf("crypto/verifier: nonce %d already consumed: %w", msg.Nonce, domain.ErrNonceReplayed)
	}
	n.last = msg.Nonce
	n.used = true

	return identity, nil
}

// PeekNonce returns the highest nonce consumed for the signer, or zero when
// none has been.
func (v *Verifier) PeekNonce(identity string) uint64 {
	n := v.nonceFor(strings.ToLower(identity))
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

func (v *Verifier) nonceFor(identity string) *signerNonce {
	if n, ok := v.nonces.Load(identity); ok {
		return n.(*signerNonce)
	}
	n, _ := v.nonces.LoadOrStore(identity, &signerNonce{})
	return n.(*signerNonce)
}

// --------------------------------------------------------------------------
// Signing side, used by bootstrap tooling and tests.
// --------------------------------------------------------------------------

// GrantSigner signs grant messages with a secp256k1 private key.
type GrantSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewGrantSigner creates a signer from a hex-encoded secp256k1 private key.
func NewGrantSigner(privateKeyHex string) (*GrantSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/verifier: invalid private key: %w", err)
	}
	return &GrantSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *GrantSigner) Address() common.Address {
	return s.address
}

// SignGrant signs the message and returns a hex-encoded 65-byte signature
// (r || s || v with v in {27,28}).
func (s *GrantSigner) SignGrant(msg GrantMessage) (string, error) {
	sig, err := ethcrypto.Sign(msg.digest(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/verifier: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// decodeSignature parses a hex signature and normalizes the recovery byte to
// {0,1} as SigToPub expects.
func decodeSignature(signatureHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil || len(raw) != 65 {
		return nil, fmt.Errorf("crypto/verifier: malformed signature: %w", domain.ErrInvalidSignature)
	}
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return sig, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
