// Package catalog loads the target definitions (the servers accounts are
// provisioned against) from a JSON config file. Pricing and capacity are
// scoped per target; the file is operator-maintained and read once at
// startup.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Target describes one provisionable server/plan.
type Target struct {
	Code     string           `json:"code" validate:"required,max=32"`
	Name     string           `json:"name" validate:"max=150"`
	Host     string           `json:"host" validate:"required,hostname|hostname_port"`
	Enabled  *bool            `json:"enabled"` // nil means enabled
	Capacity int              `json:"capacity" validate:"gte=0"`
	QuotaGB  int              `json:"quota_gb" validate:"gte=0"`
	IPLimit  int              `json:"ip_limit" validate:"gte=0"`
	Prices   map[string]int64 `json:"prices" validate:"dive,gte=0"`
}

// IsEnabled reports whether the target accepts new accounts. Absence of the
// flag in the config means enabled, matching how operators edit the file.
func (t *Target) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Price resolves the price (minor currency units) for a duration in days.
// The second return is false when no price is configured for that duration.
func (t *Target) Price(days int) (int64, bool) {
	p, ok := t.Prices[strconv.Itoa(days)]
	if !ok || p <= 0 {
		return 0, false
	}
	return p, true
}

// Catalog is the loaded set of targets.
type Catalog struct {
	targets []Target
	byCode  map[string]*Target
}

// Load reads and validates the target config file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw JSON.
func Parse(data []byte) (*Catalog, error) {
	var targets []Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	v := validator.New()
	byCode := make(map[string]*Target, len(targets))
	for i := range targets {
		t := &targets[i]
		if err := v.Struct(t); err != nil {
			return nil, fmt.Errorf("catalog: target %q: %w", t.Code, err)
		}
		if _, dup := byCode[t.Code]; dup {
			return nil, fmt.Errorf("catalog: duplicate target code %q", t.Code)
		}
		byCode[t.Code] = t
	}

	return &Catalog{targets: targets, byCode: byCode}, nil
}

// Get returns the target with the given code.
func (c *Catalog) Get(code string) (*Target, bool) {
	t, ok := c.byCode[code]
	return t, ok
}

// Targets returns all enabled targets in file order.
func (c *Catalog) Targets() []Target {
	out := make([]Target, 0, len(c.targets))
	for _, t := range c.targets {
		if t.IsEnabled() {
			out = append(out, t)
		}
	}
	return out
}

var (
	global     *Catalog
	globalOnce sync.Once
)

// Setup loads the global catalog from SERVERS_CONFIG. Panics on a broken
// config since the service cannot provision anything without it.
func Setup(path string) {
	globalOnce.Do(func() {
		c, err := Load(path)
		if err != nil {
			panic(err)
		}
		global = c
	})
}

// Global returns the catalog loaded by Setup.
func Global() *Catalog {
	return global
}
