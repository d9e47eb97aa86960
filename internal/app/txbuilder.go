package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/pkg/ledgerclient"
)

var (
	defaultGaslessArgs  = []string{"from", "signature", "assetId", "to", "amount", "corridor"}
	defaultStandardArgs = []string{"from", "to", "amount", "assetId", "corridor"}
)

// TxBuilder maps a job payload onto the configured ledger call.
type TxBuilder struct {
	pallet  string
	method  string
	argKeys []string
	chainID string
}

// NewTxBuilder uses argKeys when given; otherwise gasless methods get the gasless
// argument order and every other method the standard one.
func NewTxBuilder(pallet, method string, argKeys []string, chainID string) *TxBuilder {
	keys := argKeys
	if len(keys) == 0 {
		if strings.Contains(strings.ToLower(method), "gasless") {
			keys = defaultGaslessArgs
		} else {
			keys = defaultStandardArgs
		}
	}
	return &TxBuilder{pallet: pallet, method: method, argKeys: append([]string(nil), keys...), chainID: chainID}
}

func (b *TxBuilder) ArgKeys() []string { return append([]string(nil), b.argKeys...) }

// Build resolves every argument in order. An absent or empty value is ErrMissingCallArg.
func (b *TxBuilder) Build(p domain.NormalizedPayload) (ledgerclient.Call, error) {
	args := make([]any, 0, len(b.argKeys))
	for _, key := range b.argKeys {
		value, err := b.resolve(key, p)
		if err != nil {
			return ledgerclient.Call{}, err
		}
		if value == nil {
			return ledgerclient.Call{}, fmt.Errorf("%w: %s", ErrMissingCallArg, key)
		}
		args = append(args, value)
	}
	return ledgerclient.Call{Pallet: b.pallet, Method: b.method, Args: args}, nil
}

func (b *TxBuilder) resolve(key string, p domain.NormalizedPayload) (any, error) {
	switch key {
	case "from":
		return nonEmpty(p.From), nil
	case "to":
		return nonEmpty(p.To), nil
	case "amount":
		return nonEmpty(p.Amount), nil
	case "assetId":
		return nonEmpty(p.AssetID), nil
	case "corridor":
		return nonEmpty(p.Corridor), nil
	case "signature":
		return nonEmpty(p.Signature), nil
	case "nonce":
		if p.Nonce == nil {
			return nil, nil
		}
		return *p.Nonce, nil
	case "deadline":
		if p.Deadline == nil {
			return nil, nil
		}
		return *p.Deadline, nil
	case "chainId":
		raw := strings.TrimSpace(p.ChainID)
		if raw == "" {
			raw = b.chainID
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChainID, raw)
		}
		return id, nil
	default:
		return nil, nil
	}
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
