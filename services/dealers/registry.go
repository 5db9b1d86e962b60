package dealers

import (
	"fmt"
	"strings"

	"vinflow-backend/lib/configutil"
	"vinflow-backend/lib/namemap"
	"vinflow-backend/lib/pipeline"
)

// Dealership is the validated form of one dealership configuration
// entry. The scraped inventory lives under InventoryLocation (resolved
// through the name mapping), while Name is what order requests and
// humans use.
type Dealership struct {
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
	// underlying inventory location key; empty means Name itself
	InventoryLocation string         `json:"inventory_location"`
	Filtering         FilteringRules `json:"filtering_rules"`
	Output            OutputRules    `json:"output_rules"`
	QROutputPath      string         `json:"qr_output_path"`
}

type Config struct {
	Dealerships []Dealership `json:"dealerships"`
	// extra display name -> location mappings on top of the per-dealer
	// inventory_location fields
	NameMapping map[string]string `json:"name_mapping"`
}

// Registry is the lookup surface every other service goes through. It
// owns the display-name to location-key resolution.
type Registry struct {
	byName   map[string]Dealership
	resolver namemap.Resolver
}

func Load(path string) (*Registry, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(cfg)
}

func NewRegistry(cfg Config) (*Registry, error) {
	byName := make(map[string]Dealership, len(cfg.Dealerships))
	mapping := make(map[string]string, len(cfg.Dealerships))
	for k, v := range cfg.NameMapping {
		mapping[k] = v
	}

	for i := range cfg.Dealerships {
		d := cfg.Dealerships[i]
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, &pipeline.ConfigurationError{
				Dealership: fmt.Sprintf("entry %d", i),
				Reason:     "missing name",
			}
		}
		if _, exists := byName[d.Name]; exists {
			return nil, &pipeline.ConfigurationError{
				Dealership: d.Name,
				Reason:     "duplicate dealership entry",
			}
		}
		d.Filtering.Normalize()
		d.Output.Normalize()
		if d.Filtering.MinPrice < 0 || d.Filtering.MaxPrice < 0 {
			return nil, &pipeline.ConfigurationError{
				Dealership: d.Name,
				Reason:     "negative price bound in filtering_rules",
			}
		}
		if d.Filtering.MaxPrice > 0 && d.Filtering.MinPrice > d.Filtering.MaxPrice {
			return nil, &pipeline.ConfigurationError{
				Dealership: d.Name,
				Reason:     "min_price exceeds max_price in filtering_rules",
			}
		}
		if d.InventoryLocation != "" {
			mapping[d.Name] = d.InventoryLocation
		}
		byName[d.Name] = d
	}

	return &Registry{
		byName:   byName,
		resolver: namemap.NewResolver(mapping),
	}, nil
}

// Get returns the dealership plus its resolved inventory location key.
func (r *Registry) Get(name string) (Dealership, string, error) {
	d, ok := r.byName[name]
	if !ok {
		return Dealership{}, "", &pipeline.ConfigurationError{
			Dealership: name,
			Reason:     "unknown dealership",
		}
	}
	return d, r.resolver.Resolve(name), nil
}

// Resolve maps a display name to its inventory location key without
// requiring the dealership to exist, for read-only reporting paths.
func (r *Registry) Resolve(name string) string {
	return r.resolver.Resolve(name)
}

func (r *Registry) Active() []Dealership {
	var out []Dealership
	for _, d := range r.byName {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// Locations returns the set of inventory location keys covered by the
// configured dealerships.
func (r *Registry) Locations() map[string]struct{} {
	out := make(map[string]struct{}, len(r.byName))
	for name := range r.byName {
		out[r.resolver.Resolve(name)] = struct{}{}
	}
	return out
}
