// Package ledger holds the customer and transaction record sets and applies
// the business events (registration, sale, redemption, referral bonus) to
// them.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/promo"
)

// State is the working set owned by one request. Callers that need
// all-or-nothing semantics mutate a Clone and swap it in on success.
type State struct {
	Customers    []models.Customer
	Transactions []models.Transaction
	Promotions   *promo.Registry
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{Promotions: promo.NewRegistry()}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		Customers:    append([]models.Customer(nil), s.Customers...),
		Transactions: append([]models.Transaction(nil), s.Transactions...),
	}
	if s.Promotions != nil {
		c.Promotions = s.Promotions.Clone()
	} else {
		c.Promotions = promo.NewRegistry()
	}
	return c
}

// Customer looks a customer up by name.
func (s *State) Customer(name string) (models.Customer, bool) {
	i := s.indexOf(name)
	if i < 0 {
		return models.Customer{}, false
	}
	return s.Customers[i], true
}

// TransactionsFor returns every transaction of one customer in ledger order.
func (s *State) TransactionsFor(customerID string) []models.Transaction {
	var out []models.Transaction
	for _, txn := range s.Transactions {
		if txn.CustomerID == customerID {
			out = append(out, txn)
		}
	}
	return out
}

// PurchaseCount returns the number of sales recorded for a customer.
func (s *State) PurchaseCount(customerID string) int {
	n := 0
	for _, txn := range s.Transactions {
		if txn.CustomerID == customerID && txn.Kind == models.KindSale {
			n++
		}
	}
	return n
}

// CheckConsistency verifies that every customer's balance equals the sum of
// their transaction deltas.
func (s *State) CheckConsistency() error {
	sums := make(map[string]decimal.Decimal, len(s.Customers))
	for _, txn := range s.Transactions {
		sums[txn.CustomerID] = sums[txn.CustomerID].Add(txn.CashbackDelta)
	}
	for _, c := range s.Customers {
		if !sums[c.ID].Equal(c.AvailableCashback) {
			return fmt.Errorf("%w: %s has %s, history sums to %s",
				ErrInconsistentBalance, c.Name, c.AvailableCashback.StringFixed(2), sums[c.ID].StringFixed(2))
		}
	}
	return nil
}

func (s *State) indexOf(name string) int {
	for i := range s.Customers {
		if s.Customers[i].Name == name {
			return i
		}
	}
	return -1
}
