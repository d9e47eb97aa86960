// Package catalog describes which assets and corridors the relayer accepts and how
// many fractional digits each asset's amounts may carry.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUnsupportedAsset    = errors.New("unsupported asset")
	ErrUnsupportedCorridor = errors.New("unsupported corridor")
	ErrPrecisionExceeded   = errors.New("amount exceeds asset precision")
)

// Asset is a transferable asset and its precision.
type Asset struct {
	ID       string `yaml:"id"`
	Decimals int32  `yaml:"decimals"`
}

// Corridor is a payout route. An empty Assets list allows every catalog asset.
type Corridor struct {
	ID     string   `yaml:"id"`
	Assets []string `yaml:"assets"`
}

type file struct {
	Assets    []Asset    `yaml:"assets"`
	Corridors []Corridor `yaml:"corridors"`
}

// Catalog validates intake amounts. The zero value (and nil) accepts any asset and
// corridor and only checks that the amount is a positive decimal.
type Catalog struct {
	assets    map[string]Asset
	corridors map[string]map[string]struct{}
}

// Load reads a YAML catalog from disk. An empty path yields a permissive catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return &Catalog{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	var raw file
	if err := yaml.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(raw.Assets, raw.Corridors)
}

// New builds a catalog from explicit entries.
func New(assets []Asset, corridors []Corridor) (*Catalog, error) {
	c := &Catalog{
		assets:    make(map[string]Asset, len(assets)),
		corridors: make(map[string]map[string]struct{}, len(corridors)),
	}
	for _, asset := range assets {
		id := strings.TrimSpace(asset.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog asset without id")
		}
		if asset.Decimals < 0 || asset.Decimals > 36 {
			return nil, fmt.Errorf("catalog asset %s: decimals %d out of range", id, asset.Decimals)
		}
		if _, dup := c.assets[id]; dup {
			return nil, fmt.Errorf("catalog asset %s listed twice", id)
		}
		asset.ID = id
		c.assets[id] = asset
	}
	for _, corridor := range corridors {
		id := strings.TrimSpace(corridor.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog corridor without id")
		}
		allowed := make(map[string]struct{}, len(corridor.Assets))
		for _, assetID := range corridor.Assets {
			assetID = strings.TrimSpace(assetID)
			if _, ok := c.assets[assetID]; !ok {
				return nil, fmt.Errorf("catalog corridor %s references unknown asset %s", id, assetID)
			}
			allowed[assetID] = struct{}{}
		}
		c.corridors[id] = allowed
	}
	return c, nil
}

// Size reports the number of assets and corridors configured.
func (c *Catalog) Size() (assets, corridors int) {
	if c == nil {
		return 0, 0
	}
	return len(c.assets), len(c.corridors)
}

// Validate checks an intake amount against its asset and corridor.
func (c *Catalog) Validate(amount, assetID, corridor string) error {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !value.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if c == nil {
		return nil
	}

	if len(c.assets) > 0 {
		asset, ok := c.assets[assetID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetID)
		}
		if !value.Equal(value.Truncate(asset.Decimals)) {
			return fmt.Errorf("%w: %s allows %d decimals", ErrPrecisionExceeded, assetID, asset.Decimals)
		}
	}
	if len(c.corridors) > 0 {
		allowed, ok := c.corridors[corridor]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedCorridor, corridor)
		}
		if len(allowed) > 0 {
			if _, ok := allowed[assetID]; !ok {
				return fmt.Errorf("%w: %s does not carry %s", ErrUnsupportedCorridor, corridor, assetID)
			}
		}
	}
	return nil
}
