package entitlement

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TierID names a paid subscription tier. TierNone means no subscription.
type TierID string

const (
	TierNone         TierID = "none"
	TierMicroBoost   TierID = "micro-boost"
	TierPowerPlanner TierID = "power-planner"
)

// FreeWindow is how long one free plan blocks the next.
const FreeWindow = 24 * time.Hour

var ErrUnknownTier = errors.New("unknown subscription tier")

// Tier describes what a paid tier costs and grants.
type Tier struct {
	ID        TierID
	Name      string
	Price     int // major currency units
	Currency  string
	Validity  time.Duration
	PlanLimit int
}

// MinorUnits is the price in the currency's smallest unit (pesewas for GHS).
func (t Tier) MinorUnits() int64 {
	return int64(t.Price) * 100
}

// Catalog is the ordered list of purchasable tiers.
type Catalog []Tier

// DefaultCatalog returns the built-in tiers.
func DefaultCatalog() Catalog {
	return Catalog{
		{ID: TierMicroBoost, Name: "Micro-Boost", Price: 3, Currency: "GHS", Validity: 48 * time.Hour, PlanLimit: 5},
		{ID: TierPowerPlanner, Name: "Power Planner", Price: 60, Currency: "GHS", Validity: 30 * 24 * time.Hour, PlanLimit: 150},
	}
}

// Lookup finds a tier by id.
func (c Catalog) Lookup(id TierID) (Tier, bool) {
	for _, t := range c {
		if t.ID == id {
			return t, true
		}
	}
	return Tier{}, false
}

type catalogFile struct {
	Tiers []struct {
		ID        string `yaml:"id"`
		Name      string `yaml:"name"`
		Price     int    `yaml:"price"`
		Currency  string `yaml:"currency"`
		Validity  string `yaml:"validity"`
		PlanLimit int    `yaml:"plan_limit"`
	} `yaml:"tiers"`
}

// LoadCatalog reads a YAML tier catalog:
//
//	tiers:
//	  - id: micro-boost
//	    name: Micro-Boost
//	    price: 3
//	    currency: GHS
//	    validity: 48h
//	    plan_limit: 5
func LoadCatalog(r io.Reader) (Catalog, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode tier catalog: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, errors.New("tier catalog is empty")
	}

	out := make(Catalog, 0, len(f.Tiers))
	for _, t := range f.Tiers {
		if t.ID == "" || TierID(t.ID) == TierNone {
			return nil, fmt.Errorf("tier %q: invalid id", t.ID)
		}
		validity, err := parseValidity(t.Validity)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", t.ID, err)
		}
		if t.Price <= 0 || t.PlanLimit <= 0 {
			return nil, fmt.Errorf("tier %q: price and plan_limit must be positive", t.ID)
		}
		currency := t.Currency
		if currency == "" {
			currency = "GHS"
		}
		name := t.Name
		if name == "" {
			name = t.ID
		}
		out = append(out, Tier{
			ID:        TierID(t.ID),
			Name:      name,
			Price:     t.Price,
			Currency:  currency,
			Validity:  validity,
			PlanLimit: t.PlanLimit,
		})
	}
	return out, nil
}

// LoadCatalogFile reads a catalog from path, or returns DefaultCatalog when
// path is empty.
func LoadCatalogFile(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tier catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// parseValidity accepts Go durations plus a whole-day suffix ("30d").
func parseValidity(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid validity %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid validity %q", s)
	}
	return d, nil
}
