// Package classify holds the pure option classifiers used by the width engine.
package classify

import "github.com/eddiefleurent/option_width/internal/models"

// Epsilon is the floor applied to non-positive prices before comparison.
const Epsilon = 1e-9

// IsOutOfTheMoney reports whether an option is out of the money against the
// futures price. Calls are OTM when strike > price, puts when strike < price.
// Invalid input cannot be classified and yields false.
func IsOutOfTheMoney(futurePrice, strike float64, optionType models.OptionType) bool {
	if futurePrice <= 0 || strike <= 0 {
		return false
	}
	switch optionType {
	case models.OptionTypeCall:
		return strike > futurePrice
	case models.OptionTypePut:
		return strike < futurePrice
	default:
		return false
	}
}

// IsSynchronized reports whether the option's own price is rising.
// Callers only ask about options already matched to the futures direction
// (rising future -> calls, falling future -> puts).
func IsSynchronized(current, previous float64) bool {
	return clamp(current) > clamp(previous)
}

// MatchesDirection reports whether an option type is the one the strategy
// expects for the futures direction.
func MatchesDirection(optionType models.OptionType, rising bool) bool {
	if rising {
		return optionType == models.OptionTypeCall
	}
	return optionType == models.OptionTypePut
}

func clamp(p float64) float64 {
	// NaN compares false against everything, treat it as missing too
	if !(p > 0) {
		return Epsilon
	}
	return p
}
