package instruments

import (
	"strings"

	"github.com/eddiefleurent/option_width/internal/classify"
	"github.com/eddiefleurent/option_width/internal/config"
	"github.com/eddiefleurent/option_width/internal/models"
)

// Target is one unit of work for a calculation cycle.
type Target struct {
	Key      models.InstrumentKey // result key
	Kind     models.UnderlyingKind
	PriceKey models.InstrumentKey // series that drives direction
	// Specified and Next are the chain ids for the two months; Next is empty
	// when no next specified month is configured.
	Specified string
	Next      string
}

// Resolver answers option-chain questions from the catalog and the
// configured product month table.
type Resolver struct {
	catalog *Catalog
	// next maps EXCH|specified month -> next specified month
	next map[string]string
	// chains maps a chain id (underlying future or option group) to its options, catalog order
	chains  map[string][]models.OptionDescriptor
	futures map[string]bool
	groups  []groupInfo
}

type groupInfo struct {
	exchange   string
	id         string
	underlying string
}

// NewResolver indexes the catalog.
func NewResolver(catalog *Catalog, products []config.ProductConfig) *Resolver {
	if catalog == nil {
		catalog = &Catalog{}
	}
	r := &Resolver{
		catalog: catalog,
		next:    make(map[string]string),
		chains:  make(map[string][]models.OptionDescriptor),
		futures: make(map[string]bool),
	}

	for _, p := range products {
		if p.NextSpecifiedMonth == "" {
			continue
		}
		r.next[monthKey(p.Exchange, p.SpecifiedMonth)] = p.NextSpecifiedMonth
		// exchange-less lookups are served too
		if _, taken := r.next[monthKey("", p.SpecifiedMonth)]; !taken {
			r.next[monthKey("", p.SpecifiedMonth)] = p.NextSpecifiedMonth
		}
	}

	for _, f := range catalog.Futures {
		r.futures[chainKey(f.Exchange, f.Instrument)] = true
	}

	seenGroup := make(map[string]bool)
	for _, o := range catalog.Options {
		if r.futures[chainKey(o.Exchange, o.Underlying)] {
			k := chainKey(o.Exchange, o.Underlying)
			r.chains[k] = append(r.chains[k], o)
			continue
		}
		group := classify.GroupID(o.Instrument)
		if group == "" {
			continue
		}
		k := chainKey(o.Exchange, group)
		r.chains[k] = append(r.chains[k], o)
		if !seenGroup[k] {
			seenGroup[k] = true
			r.groups = append(r.groups, groupInfo{exchange: o.Exchange, id: group, underlying: o.Underlying})
		}
	}

	return r
}

// OptionChain returns the options of a chain: the options written on a
// future, or the options of a grouped chain such as IO2603.
func (r *Resolver) OptionChain(exchange, chainID string) []models.OptionDescriptor {
	if chainID == "" {
		return nil
	}
	return r.chains[chainKey(exchange, chainID)]
}

// NextMonthID returns the configured next specified month for an
// underlying, or "" when none is configured.
func (r *Resolver) NextMonthID(exchange, underlyingID string) string {
	if n, ok := r.next[monthKey(exchange, underlyingID)]; ok {
		return n
	}
	return r.next[monthKey("", underlyingID)]
}

// Targets builds the task set of a cycle: one target per tracked future and
// one per option-chain group, in catalog order.
func (r *Resolver) Targets() []Target {
	targets := make([]Target, 0, len(r.catalog.Futures)+len(r.groups))

	for _, f := range r.catalog.Futures {
		key := models.NewInstrumentKey(f.Exchange, f.Instrument)
		targets = append(targets, Target{
			Key:       key,
			Kind:      models.KindFuture,
			PriceKey:  key,
			Specified: f.Instrument,
			Next:      r.NextMonthID(f.Exchange, f.Instrument),
		})
	}

	for _, g := range r.groups {
		targets = append(targets, Target{
			Key:       models.NewInstrumentKey(g.exchange, g.id),
			Kind:      models.KindOptionGroup,
			PriceKey:  r.catalog.UnderlyingKey(g.exchange, g.underlying),
			Specified: g.id,
			Next:      r.NextMonthID(g.exchange, g.id),
		})
	}

	return targets
}

func chainKey(exchange, id string) string {
	return strings.ToUpper(strings.TrimSpace(exchange)) + "|" + strings.TrimSpace(id)
}

func monthKey(exchange, month string) string {
	return chainKey(exchange, month)
}
