package collaborators

import (
	"fmt"
	"io"
	"os"

	"github.com/aescanero/fulfillment/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Seed is a YAML document describing a demo catalog
type Seed struct {
	Warehouses []domain.Warehouse        `yaml:"warehouses"`
	Stock      map[string]map[string]int `yaml:"stock"` // warehouse -> sku -> quantity
	Orders     []domain.Order            `yaml:"orders"`
	Carriers   []Carrier                 `yaml:"carriers"`
	Compliance ComplianceRules           `yaml:"compliance"`
	Denied     []string                  `yaml:"denied_warehouses"`
	Extra      map[string]interface{}    `yaml:",inline"`
}

// LoadSeed decodes a seed document
func LoadSeed(r io.Reader) (*Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&s); err != nil {
		if err == io.EOF {
			return &s, nil
		}
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	if len(s.Extra) > 0 {
		keys := make([]string, 0, len(s.Extra))
		for k := range s.Extra {
			keys = append(keys, k)
		}
		return nil, fmt.Errorf("unknown seed sections: %v", keys)
	}
	return &s, nil
}

// LoadSeedFile decodes the seed document at path
func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// Apply loads the seed into the catalog and checker
func (s *Seed) Apply(catalog *Catalog, checker *RuleChecker) {
	for _, w := range s.Warehouses {
		catalog.AddWarehouse(w)
	}
	for warehouseID, skus := range s.Stock {
		for sku, qty := range skus {
			catalog.SetStock(warehouseID, sku, qty)
		}
	}
	for _, o := range s.Orders {
		catalog.AddOrder(o)
	}
	for _, id := range s.Denied {
		catalog.DenyAccess(id)
	}
	checker.SetRules(s.Compliance)
}
