package billing

import (
	"github.com/shopspring/decimal"
)

var fifty = decimal.NewFromInt(50)

// RoundTotalCharge rounds amount to the granularity of pref. Halves round up.
// Unknown preferences leave the amount unchanged.
func RoundTotalCharge(amount decimal.Decimal, pref RoundingPreference) decimal.Decimal {
	switch pref {
	case RoundingNearest50:
		return roundTo(amount, fifty)
	case RoundingNearest100:
		return roundTo(amount, hundred)
	default:
		return amount
	}
}

func roundTo(amount, step decimal.Decimal) decimal.Decimal {
	return amount.Div(step).Round(0).Mul(step)
}

// Granularity returns the rounding step of pref, zero for none.
func Granularity(pref RoundingPreference) decimal.Decimal {
	switch pref {
	case RoundingNearest50:
		return fifty
	case RoundingNearest100:
		return hundred
	default:
		return decimal.Zero
	}
}

// ParseRoundingPreference maps a stored label to a preference.
func ParseRoundingPreference(s string) RoundingPreference {
	switch RoundingPreference(s) {
	case RoundingNearest50, RoundingNearest100:
		return RoundingPreference(s)
	default:
		return RoundingNone
	}
}
