// Package tier maps lifetime spend to a loyalty tier and the cashback rates
// that tier grants.
package tier

import (
	"strings"

	"github.com/shopspring/decimal"

	"loyalty-ledger/internal/models"
)

// Tier is one row of the tier table.
type Tier struct {
	Name         models.Tier
	MinSpend     decimal.Decimal
	StandardRate decimal.Decimal
	PromoRate    decimal.Decimal
}

var (
	// ReferralFirstPurchaseRate replaces both tier rates on a referred
	// customer's first sale.
	ReferralFirstPurchaseRate = decimal.RequireFromString("0.08")
	// ReferralBonusRate is credited to the referrer on that first sale.
	ReferralBonusRate = decimal.RequireFromString("0.05")
)

// table is ordered highest threshold first; the first match wins.
var table = []Tier{
	{
		Name:         models.TierDiamond,
		MinSpend:     decimal.RequireFromString("1000.01"),
		StandardRate: decimal.RequireFromString("0.15"),
		PromoRate:    decimal.RequireFromString("0.20"),
	},
	{
		Name:         models.TierGold,
		MinSpend:     decimal.RequireFromString("200.01"),
		StandardRate: decimal.RequireFromString("0.07"),
		PromoRate:    decimal.RequireFromString("0.10"),
	},
	{
		Name:         models.TierSilver,
		MinSpend:     decimal.Zero,
		StandardRate: decimal.RequireFromString("0.03"),
		PromoRate:    decimal.RequireFromString("0.03"),
	},
}

// For returns the tier a customer with the given lifetime spend belongs to.
func For(lifetimeSpend decimal.Decimal) Tier {
	for _, t := range table {
		if lifetimeSpend.GreaterThanOrEqual(t.MinSpend) {
			return t
		}
	}
	return table[len(table)-1]
}

// AmountToNext returns how much more spend moves the customer up one tier.
// It is zero for the top tier.
func AmountToNext(lifetimeSpend decimal.Decimal, current models.Tier) decimal.Decimal {
	for i, t := range table {
		if t.Name != current {
			continue
		}
		if i == 0 {
			return decimal.Zero
		}
		remaining := table[i-1].MinSpend.Sub(lifetimeSpend)
		if remaining.IsNegative() {
			return decimal.Zero
		}
		return remaining
	}
	return decimal.Zero
}

// Rank orders tiers from lowest (0) to highest.
func Rank(name models.Tier) int {
	for i, t := range table {
		if t.Name == name {
			return len(table) - 1 - i
		}
	}
	return 0
}

// Parse reads a stored tier name, defaulting to Silver.
func Parse(s string) models.Tier {
	for _, t := range table {
		if strings.EqualFold(strings.TrimSpace(s), string(t.Name)) {
			return t.Name
		}
	}
	return models.TierSilver
}
