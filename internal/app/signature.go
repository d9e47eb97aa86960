package app

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/remitchain/relayer-service/internal/config"
	"github.com/remitchain/relayer-service/internal/domain"
)

// SignatureVerifier checks that a request was signed by its sender for this chain.
// Malformed input verifies as false; it is never an error.
type SignatureVerifier interface {
	Verify(payload domain.NormalizedPayload) bool
}

// SigningParams binds signatures to one deployment.
type SigningParams struct {
	Domain  string
	Action  string
	ChainID string
}

// CanonicalMessage is the exact text a wallet signs:
// domain:chainId:action:from:to:amount:assetId:corridor:nonce:deadline.
func CanonicalMessage(params SigningParams, p domain.NormalizedPayload) string {
	return strings.Join([]string{
		params.Domain,
		p.ChainID,
		params.Action,
		p.From,
		p.To,
		p.Amount,
		p.AssetID,
		p.Corridor,
		formatOptional(p.Nonce),
		formatOptional(p.Deadline),
	}, ":")
}

func formatOptional(v *uint64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(*v, 10)
}

// NewSignatureVerifier returns the verifier for the configured scheme.
func NewSignatureVerifier(scheme string, params SigningParams) SignatureVerifier {
	if scheme == config.SchemeEd25519 {
		return ed25519Verifier{params: params}
	}
	return secp256k1Verifier{params: params}
}

func precheck(params SigningParams, p domain.NormalizedPayload) bool {
	return p.HasProof() && p.ChainID == params.ChainID
}

func decodeHex(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	return b, err == nil
}

// secp256k1Verifier recovers the signer of an EIP-191 personal message and compares
// it with the sender address.
type secp256k1Verifier struct {
	params SigningParams
}

func (v secp256k1Verifier) Verify(p domain.NormalizedPayload) bool {
	if !precheck(v.params, p) || !common.IsHexAddress(p.From) {
		return false
	}
	sig, ok := decodeHex(p.Signature)
	if !ok || len(sig) != ethcrypto.SignatureLength {
		return false
	}
	sig = bytes.Clone(sig)
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(CanonicalMessage(v.params, p)))
	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == common.HexToAddress(p.From)
}

// ed25519Verifier treats the sender as a hex-encoded public key and checks the
// signature over the raw message bytes.
type ed25519Verifier struct {
	params SigningParams
}

func (v ed25519Verifier) Verify(p domain.NormalizedPayload) bool {
	if !precheck(v.params, p) {
		return false
	}
	pub, ok := decodeHex(p.From)
	if !ok || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, ok := decodeHex(p.Signature)
	if !ok || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(CanonicalMessage(v.params, p)), sig)
}
