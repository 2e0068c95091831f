// Package instruments resolves option chains and calculation targets from the
// externally supplied instrument list and the configured month table.
package instruments

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/option_width/internal/models"
)

// Future is a listed futures contract.
type Future struct {
	Exchange   string `yaml:"exchange"`
	Instrument string `yaml:"instrument"`
}

// Catalog is the ordered instrument list loaded by the platform.
type Catalog struct {
	Futures []Future                  `yaml:"futures"`
	Options []models.OptionDescriptor `yaml:"options"`
	// IndexExchange maps a non-futures underlying (an index) to the exchange
	// its bars are published on. Defaults to the option's exchange.
	IndexExchange map[string]string `yaml:"index_exchange"`
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

// UnderlyingKey is the series that prices an underlying quoted on exchange.
// Index underlyings resolve through IndexExchange.
func (c *Catalog) UnderlyingKey(exchange, underlying string) models.InstrumentKey {
	if ex, ok := c.IndexExchange[underlying]; ok && ex != "" {
		exchange = ex
	}
	return models.NewInstrumentKey(exchange, underlying)
}

// BarKeys lists every distinct series the catalog needs bars for, in catalog
// order: futures, then each option's underlying series and the option itself.
func (c *Catalog) BarKeys() []models.InstrumentKey {
	if c == nil {
		return nil
	}
	seen := make(map[models.InstrumentKey]bool)
	var keys []models.InstrumentKey
	add := func(k models.InstrumentKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, f := range c.Futures {
		add(models.NewInstrumentKey(f.Exchange, f.Instrument))
	}
	for _, o := range c.Options {
		add(c.UnderlyingKey(o.Exchange, o.Underlying))
		add(o.Key())
	}
	return keys
}

// Validate checks that every entry is usable and reports every bad entry.
func (c *Catalog) Validate() error {
	var err error
	for i, f := range c.Futures {
		if f.Exchange == "" || f.Instrument == "" {
			err = multierr.Append(err, fmt.Errorf("futures[%d]: exchange and instrument are required", i))
		}
	}
	for i, o := range c.Options {
		if o.Exchange == "" || o.Instrument == "" || o.Underlying == "" {
			err = multierr.Append(err, fmt.Errorf("options[%d]: exchange, instrument and underlying are required", i))
			continue
		}
		if o.Strike <= 0 {
			err = multierr.Append(err, fmt.Errorf("options[%d] %s: strike must be > 0", i, o.Instrument))
		}
	}
	return err
}
