package storage

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/tier"
)

var (
	customerColumns = []string{
		"id", "name", "nickname", "phone", "available_cashback",
		"lifetime_spend", "current_tier", "referred_by", "first_purchase_done",
	}
	transactionColumns = []string{
		"id", "date", "customer_id", "customer_name", "kind",
		"amount", "cashback_delta", "promo_flag",
	}
	windowColumns = []string{
		"product_name", "start_date", "end_date", "is_active",
	}
)

// row gives typed, default-filling access to one record by column name.
type row struct {
	index  map[string]int
	values []string
}

func indexColumns(cols []string) map[string]int {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		key := strings.ToLower(strings.TrimSpace(c))
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

func (r row) str(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

func (r row) money(col string) decimal.Decimal {
	v, err := decimal.NewFromString(r.str(col))
	if err != nil {
		return decimal.Zero
	}
	return v
}

func (r row) boolean(col string) bool {
	return strings.EqualFold(r.str(col), "true")
}

func (r row) date(col string) models.Date {
	d, err := models.ParseDate(r.str(col))
	if err != nil {
		return models.Date{}
	}
	return d
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// CustomersTable encodes customers for storage.
func CustomersTable(customers []models.Customer) Table {
	rows := make([][]string, 0, len(customers))
	for _, c := range customers {
		rows = append(rows, []string{
			c.ID,
			c.Name,
			c.Nickname,
			c.Phone,
			c.AvailableCashback.StringFixed(2),
			c.LifetimeSpend.StringFixed(2),
			string(tier.For(c.LifetimeSpend).Name),
			c.ReferredBy,
			formatBool(c.FirstPurchaseDone),
		})
	}
	return Table{ID: Customers, Columns: customerColumns, Rows: rows}
}

// CustomersFromTable decodes stored customers. The stored tier is ignored and
// recomputed from lifetime spend; rows without a name are skipped.
func CustomersFromTable(t Table) []models.Customer {
	idx := indexColumns(t.Columns)
	out := make([]models.Customer, 0, len(t.Rows))
	seen := make(map[string]bool, len(t.Rows))
	for _, values := range t.Rows {
		r := row{index: idx, values: values}
		name := r.str("name")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		c := models.Customer{
			ID:                r.str("id"),
			Name:              name,
			Nickname:          r.str("nickname"),
			Phone:             r.str("phone"),
			AvailableCashback: r.money("available_cashback"),
			LifetimeSpend:     r.money("lifetime_spend"),
			ReferredBy:        r.str("referred_by"),
			FirstPurchaseDone: r.boolean("first_purchase_done"),
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CurrentTier = tier.For(c.LifetimeSpend).Name
		out = append(out, c)
	}
	return out
}

// TransactionsTable encodes transactions for storage.
func TransactionsTable(txns []models.Transaction) Table {
	rows := make([][]string, 0, len(txns))
	for _, txn := range txns {
		rows = append(rows, []string{
			txn.ID,
			txn.Date.String(),
			txn.CustomerID,
			txn.CustomerName,
			string(txn.Kind),
			txn.Amount.StringFixed(2),
			txn.CashbackDelta.StringFixed(2),
			formatBool(txn.PromoFlag),
		})
	}
	return Table{ID: Transactions, Columns: transactionColumns, Rows: rows}
}

// TransactionsFromTable decodes stored transactions. Rows written before
// customer ids existed are linked to their customer by name.
func TransactionsFromTable(t Table, customers []models.Customer) []models.Transaction {
	byName := make(map[string]string, len(customers))
	byID := make(map[string]string, len(customers))
	for _, c := range customers {
		byName[c.Name] = c.ID
		byID[c.ID] = c.Name
	}

	idx := indexColumns(t.Columns)
	out := make([]models.Transaction, 0, len(t.Rows))
	for _, values := range t.Rows {
		r := row{index: idx, values: values}
		txn := models.Transaction{
			ID:            r.str("id"),
			Date:          r.date("date"),
			CustomerID:    r.str("customer_id"),
			CustomerName:  r.str("customer_name"),
			Kind:          parseKind(r.str("kind")),
			Amount:        r.money("amount"),
			CashbackDelta: r.money("cashback_delta"),
			PromoFlag:     r.boolean("promo_flag"),
		}
		if txn.ID == "" {
			txn.ID = uuid.NewString()
		}
		if txn.CustomerID == "" {
			txn.CustomerID = byName[txn.CustomerName]
		}
		if name, ok := byID[txn.CustomerID]; ok {
			txn.CustomerName = name
		}
		out = append(out, txn)
	}
	return out
}

// WindowsTable encodes promotional windows for storage.
func WindowsTable(windows []models.PromotionalWindow) Table {
	rows := make([][]string, 0, len(windows))
	for _, w := range windows {
		rows = append(rows, []string{
			w.ProductName,
			w.StartDate.String(),
			w.EndDate.String(),
			formatBool(w.IsActive),
		})
	}
	return Table{ID: PromotionalWindows, Columns: windowColumns, Rows: rows}
}

// WindowsFromTable decodes stored promotional windows. Rows with unreadable
// dates are skipped.
func WindowsFromTable(t Table) []models.PromotionalWindow {
	idx := indexColumns(t.Columns)
	out := make([]models.PromotionalWindow, 0, len(t.Rows))
	for _, values := range t.Rows {
		r := row{index: idx, values: values}
		w := models.PromotionalWindow{
			ProductName: r.str("product_name"),
			StartDate:   r.date("start_date"),
			EndDate:     r.date("end_date"),
			IsActive:    r.boolean("is_active"),
		}
		if w.ProductName == "" || w.StartDate.IsZero() || w.EndDate.IsZero() {
			continue
		}
		out = append(out, w)
	}
	return out
}

func parseKind(s string) models.TransactionKind {
	for _, k := range []models.TransactionKind{models.KindSale, models.KindRedemption, models.KindReferralBonus} {
		if strings.EqualFold(s, string(k)) {
			return k
		}
	}
	return models.TransactionKind(s)
}
