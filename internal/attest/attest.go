// Package attest verifies model-provenance attestations: signed claims that
// a trusted model produced a given prediction artifact. The engine stores
// only the resulting attestation hash; the claim itself stays external.
package attest

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// Attestation(string modelRef,string dataRef,uint256 confidenceBps)
var attestationTypeHash = ethcrypto.Keccak256(
	[]byte("Attestation(string modelRef,string dataRef,uint256 confidenceBps)"),
)

// Claim is one provenance claim to verify. ConfidenceBps is the model's
// self-reported confidence in basis points, [0, 10000].
type Claim struct {
	ModelRef      string
	DataRef       string
	ConfidenceBps int64
}

// digest is the signed keccak256 digest of the claim.
func (c Claim) digest() []byte {
	confidence := big.NewInt(c.ConfidenceBps).Bytes()
	padded := make([]byte, 32)
	copy(padded[32-len(confidence):], confidence)

	return ethcrypto.Keccak256(
		attestationTypeHash,
		ethcrypto.Keccak256([]byte(c.ModelRef)),
		ethcrypto.Keccak256([]byte(c.DataRef)),
		padded,
	)
}

// Verifier checks provenance claims against a trusted-model allowlist and a
// set of accepted attestor addresses.
type Verifier struct {
	mu        sync.RWMutex
	models    map[string]bool
	attestors map[common.Address]bool
}

// NewVerifier creates a verifier trusting the given model references and
// attestor addresses (hex).
func NewVerifier(trustedModels []string, attestors []string) *Verifier {
	v := &Verifier{
		models:    make(map[string]bool, len(trustedModels)),
		attestors: make(map[common.Address]bool, len(attestors)),
	}
	for _, m := range trustedModels {
		v.models[m] = true
	}
	for _, a := range attestors {
		v.attestors[common.HexToAddress(a)] = true
	}
	return v
}

// IsModelTrusted reports whether the model reference is on the allowlist.
func (v *Verifier) IsModelTrusted(modelRef string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.models[modelRef]
}

// TrustModel adds a model reference to the allowlist.
func (v *Verifier) TrustModel(modelRef string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.models[modelRef] = true
}

// RevokeModel removes a model reference from the allowlist. Idempotent.
func (v *Verifier) RevokeModel(modelRef string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.models, modelRef)
}

// Verify checks the claim signature against the accepted attestors and the
// model against the allowlist, returning the hex attestation hash stored on
// the event. Fails with ErrUntrustedModel for unlisted models and
// ErrInvalidSignature for bad signatures or unknown attestors.
func (v *Verifier) Verify(claim Claim, signatureHex string) (string, error) {
	if !v.IsModelTrusted(claim.ModelRef) {
		return "", fmt.Errorf("attest: model %q: %w", claim.ModelRef, domain.ErrUntrustedModel)
	}
	if claim.ConfidenceBps < 0 || claim.ConfidenceBps > 10_000 {
		return "", fmt.Errorf("attest: confidence %d out of range: %w", claim.ConfidenceBps, domain.ErrInvalidSignature)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil || len(raw) != 65 {
		return "", fmt.Errorf("attest: malformed signature: %w", domain.ErrInvalidSignature)
	}
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := claim.digest()
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("attest: %w", domain.ErrInvalidSignature)
	}
	attestor := ethcrypto.PubkeyToAddress(*pub)

	v.mu.RLock()
	trusted := v.attestors[attestor]
	v.mu.RUnlock()
	if !trusted {
		return "", fmt.Errorf("attest: unknown attestor %s: %w", attestor.Hex(), domain.ErrInvalidSignature)
	}

	// The attestation hash binds the claim and its attestor.
	return hex.EncodeToString(ethcrypto.Keccak256(digest, attestor.Bytes())), nil
}
