// Package report derives read-only views over a ledger state: rankings,
// filtered history, the dashboard summary and tier progress.
package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"loyalty-ledger/internal/ledger"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/tier"
)

// HistoryFilter narrows a transaction listing. Zero values match everything.
type HistoryFilter struct {
	Date         models.Date
	Kind         models.TransactionKind
	CustomerName string
}

// CashbackRanking orders customers by available cashback, highest first.
// Ties keep registration order.
func CashbackRanking(customers []models.Customer) []models.RankingEntry {
	sorted := append([]models.Customer(nil), customers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AvailableCashback.GreaterThan(sorted[j].AvailableCashback)
	})

	out := make([]models.RankingEntry, len(sorted))
	for i, c := range sorted {
		out[i] = models.RankingEntry{Rank: i + 1, CustomerName: c.Name, Value: c.AvailableCashback}
	}
	return out
}

// PurchaseRanking sums sale amounts per customer, highest first. Customers
// without sales are left out.
func PurchaseRanking(transactions []models.Transaction) []models.RankingEntry {
	totals := make(map[string]decimal.Decimal)
	names := make(map[string]string)
	var order []string
	for _, txn := range transactions {
		if txn.Kind != models.KindSale {
			continue
		}
		key := txn.CustomerID
		if key == "" {
			key = "name:" + txn.CustomerName
		}
		if _, seen := totals[key]; !seen {
			order = append(order, key)
		}
		totals[key] = totals[key].Add(txn.Amount)
		names[key] = txn.CustomerName
	}

	sort.SliceStable(order, func(i, j int) bool {
		return totals[order[i]].GreaterThan(totals[order[j]])
	})

	out := make([]models.RankingEntry, len(order))
	for i, key := range order {
		out[i] = models.RankingEntry{Rank: i + 1, CustomerName: names[key], Value: totals[key]}
	}
	return out
}

// History returns the transactions matching f, in ledger order.
func History(transactions []models.Transaction, f HistoryFilter) []models.Transaction {
	out := make([]models.Transaction, 0, len(transactions))
	for _, txn := range transactions {
		if !f.Date.IsZero() && !txn.Date.Equal(f.Date) {
			continue
		}
		if f.Kind != "" && txn.Kind != f.Kind {
			continue
		}
		if f.CustomerName != "" && txn.CustomerName != f.CustomerName {
			continue
		}
		out = append(out, txn)
	}
	return out
}

// Summary computes the dashboard figures. Sales volume counts only sales dated
// in the same month and year as today.
func Summary(state *ledger.State, today models.Date) models.Summary {
	s := models.Summary{
		CustomerCount:     len(state.Customers),
		TotalCashbackOwed: decimal.Zero,
		MonthSalesVolume:  decimal.Zero,
		ActivePromotions:  len(state.Promotions.Active(today)),
	}
	for _, c := range state.Customers {
		s.TotalCashbackOwed = s.TotalCashbackOwed.Add(c.AvailableCashback)
	}
	for _, txn := range state.Transactions {
		if txn.Kind != models.KindSale || txn.Date.IsZero() {
			continue
		}
		if txn.Date.Year() == today.Year() && txn.Date.Month() == today.Month() {
			s.MonthSalesVolume = s.MonthSalesVolume.Add(txn.Amount)
		}
	}
	return s
}

// TierProgress reports the customer's tier, its rates and how much more
// spend reaches the next tier (zero at the top).
func TierProgress(c models.Customer) models.TierProgress {
	t := tier.For(c.LifetimeSpend)
	return models.TierProgress{
		Tier:         t.Name,
		StandardRate: t.StandardRate,
		PromoRate:    t.PromoRate,
		AmountToNext: tier.AmountToNext(c.LifetimeSpend, t.Name),
	}
}
