package classify

import (
	"regexp"
	"strings"
	"sync"

	"github.com/eddiefleurent/option_width/internal/models"
)

// defaultMemoSize bounds the memo cache of the TypeResolver.
const defaultMemoSize = 4096

// optionSymbolPattern matches exchange option ids such as IO2603-C-4000,
// m2605-P-3000, RB2604C3500 and SR605P5000: product letters, a 3 or 4 digit
// delivery month, an optional separator, C or P, then the strike.
var optionSymbolPattern = regexp.MustCompile(`^[A-Za-z]{1,3}(\d{3,4})-?([CcPp])-?(\d+(?:\.\d+)?)$`)

// TypeResolver resolves the option type of a descriptor, falling back to
// symbol-pattern heuristics with a small memo cache.
type TypeResolver struct {
	mu    sync.Mutex
	memo  map[string]models.OptionType
	limit int
}

// NewTypeResolver creates a resolver with the default memo size.
func NewTypeResolver() *TypeResolver {
	return &TypeResolver{
		memo:  make(map[string]models.OptionType),
		limit: defaultMemoSize,
	}
}

// Resolve returns the descriptor's explicit type, or the type parsed from its symbol.
func (r *TypeResolver) Resolve(opt models.OptionDescriptor) models.OptionType {
	if opt.Type.Valid() {
		return opt.Type
	}
	return r.FromSymbol(opt.Instrument)
}

// FromSymbol parses the option type from an instrument id.
func (r *TypeResolver) FromSymbol(symbol string) models.OptionType {
	r.mu.Lock()
	if t, ok := r.memo[symbol]; ok {
		r.mu.Unlock()
		return t
	}
	r.mu.Unlock()

	t := ParseSymbolType(symbol)

	r.mu.Lock()
	if len(r.memo) >= r.limit {
		// coarse reset keeps the memo bounded
		r.memo = make(map[string]models.OptionType)
	}
	r.memo[symbol] = t
	r.mu.Unlock()
	return t
}

// ParseSymbolType parses the option type out of an option id without memoization.
func ParseSymbolType(symbol string) models.OptionType {
	m := optionSymbolPattern.FindStringSubmatch(strings.TrimSpace(symbol))
	if m == nil {
		return models.OptionTypeUnknown
	}
	return models.ParseOptionType(m[2])
}

// GroupID derives the option-chain group of an option id: product prefix plus
// year and month, e.g. IO2603-C-4000 -> IO2603. Returns "" when the id does
// not look like an option symbol.
func GroupID(symbol string) string {
	s := strings.TrimSpace(symbol)
	m := optionSymbolPattern.FindStringSubmatchIndex(s)
	if m == nil {
		return ""
	}
	// m[3] is the end of the delivery-month group
	return s[:m[3]]
}
