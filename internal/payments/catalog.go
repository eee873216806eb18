package payments

import (
	"fmt"
	"os"
	"sort"

	"github.com/MacJediWizard/accessgate/internal/models"
	"gopkg.in/yaml.v3"
)

// Package is a purchasable bundle of seats.
type Package struct {
	Ref          string          `yaml:"-" json:"ref"`
	Name         string          `yaml:"name" json:"name"`
	MaxSeats     int             `yaml:"max_seats" json:"max_seats"`
	Audience     models.Audience `yaml:"audience" json:"audience"`
	ValidityDays int             `yaml:"validity_days" json:"validity_days"`
}

// Catalog maps package refs to their seat bundles.
type Catalog struct {
	packages map[string]Package
}

type catalogFile struct {
	Packages map[string]Package `yaml:"packages"`
}

// LoadCatalog reads a YAML package catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read package catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML package catalog of the form:
//
//	packages:
//	  team-10:
//	    name: Team of ten
//	    max_seats: 10
//	    audience: B2B
//	    validity_days: 365
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse package catalog: %w", err)
	}

	c := &Catalog{packages: make(map[string]Package, len(file.Packages))}
	for ref, pkg := range file.Packages {
		pkg.Ref = ref
		if pkg.MaxSeats < 1 {
			return nil, fmt.Errorf("package %s: max_seats must be at least 1", ref)
		}
		if !pkg.Audience.IsValid() {
			return nil, fmt.Errorf("package %s: invalid audience %q", ref, pkg.Audience)
		}
		if pkg.ValidityDays < 1 {
			return nil, fmt.Errorf("package %s: validity_days must be at least 1", ref)
		}
		c.packages[ref] = pkg
	}
	return c, nil
}

// Lookup returns the package for ref.
func (c *Catalog) Lookup(ref string) (Package, error) {
	pkg, ok := c.packages[ref]
	if !ok {
		return Package{}, fmt.Errorf("%w: %s", ErrUnknownPackage, ref)
	}
	return pkg, nil
}

// Packages returns every package sorted by ref.
func (c *Catalog) Packages() []Package {
	out := make([]Package, 0, len(c.packages))
	for _, pkg := range c.packages {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}
