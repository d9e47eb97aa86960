package ledgerclient

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrSignerNotConfigured is returned when a submission is attempted without a relayer key.
var ErrSignerNotConfigured = errors.New("relayer signer not configured")

// Signer holds the relayer's own secp256k1 key used to authorize submissions.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex-encoded secp256k1 private key, with or without 0x.
func NewSigner(material string) (*Signer, error) {
	material = strings.TrimPrefix(strings.TrimSpace(material), "0x")
	if material == "" {
		return nil, ErrSignerNotConfigured
	}
	if _, err := hex.DecodeString(material); err != nil {
		return nil, fmt.Errorf("failed to decode relayer key material: %w", err)
	}
	key, err := ethcrypto.HexToECDSA(material)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer key material: %w", err)
	}
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the checksummed address of the signer.
func (s *Signer) Address() string {
	if s == nil || s.key == nil {
		return ""
	}
	return s.address.Hex()
}

// Sign produces a 65-byte [R || S || V] signature over the Keccak-256 hash of payload.
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, ErrSignerNotConfigured
	}
	return ethcrypto.Sign(ethcrypto.Keccak256(payload), s.key)
}
