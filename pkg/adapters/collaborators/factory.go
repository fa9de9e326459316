package collaborators

import (
	"fmt"

	"github.com/aescanero/fulfillment/pkg/ports"
	"go.uber.org/zap"
)

// Config holds collaborator configuration
type Config struct {
	Provider     string
	SeedFile     string
	LabelBaseURL string
	Logger       *zap.Logger
}

// Bundle exposes the collaborator ports together with their concrete
// in-process implementations
type Bundle struct {
	ports.Collaborators

	Catalog    *Catalog
	Router     *Router
	Printer    *LabelPrinter
	Outbox     *Outbox
	Compliance *RuleChecker
}

// New creates collaborators based on provider
func New(cfg *Config) (*Bundle, error) {
	switch cfg.Provider {
	case "memory":
		return newMemory(cfg)
	default:
		return nil, fmt.Errorf("unsupported collaborator provider: %s", cfg.Provider)
	}
}

func newMemory(cfg *Config) (*Bundle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog := NewCatalog()
	checker := NewRuleChecker(ComplianceRules{})
	carriers := DefaultCarriers()

	if cfg.SeedFile != "" {
		seed, err := LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		seed.Apply(catalog, checker)
		if len(seed.Carriers) > 0 {
			carriers = seed.Carriers
		}
		logger.Info("collaborator catalog seeded",
			zap.String("file", cfg.SeedFile),
			zap.Int("warehouses", len(seed.Warehouses)),
			zap.Int("orders", len(seed.Orders)))
	}

	b := &Bundle{
		Catalog:    catalog,
		Router:     NewRouter(catalog, carriers),
		Printer:    NewLabelPrinter(cfg.LabelBaseURL),
		Outbox:     NewOutbox(logger),
		Compliance: checker,
	}
	b.Collaborators = ports.Collaborators{
		Orders:        b.Catalog,
		Warehouses:    b.Catalog,
		Routing:       b.Router,
		Documents:     b.Printer,
		Notifications: b.Outbox,
		Compliance:    b.Compliance,
	}
	return b, nil
}
