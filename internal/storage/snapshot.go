package storage

import (
	"context"
	"fmt"

	"loyalty-ledger/internal/ledger"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/promo"
)

// LoadState reads all three tables into a fresh ledger state.
func LoadState(ctx context.Context, s Store) (*ledger.State, error) {
	customers, err := s.LoadTable(ctx, Customers)
	if err != nil {
		return nil, fmt.Errorf("failed to load customers: %w", err)
	}
	txns, err := s.LoadTable(ctx, Transactions)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	windows, err := s.LoadTable(ctx, PromotionalWindows)
	if err != nil {
		return nil, fmt.Errorf("failed to load promotional windows: %w", err)
	}

	state := ledger.NewState()
	state.Customers = CustomersFromTable(customers)
	state.Transactions = TransactionsFromTable(txns, state.Customers)
	state.Promotions = promo.Load(WindowsFromTable(windows))
	return state, nil
}

// StateTables encodes the requested tables of a state. The is_active column
// of promotional windows is computed for today.
func StateTables(state *ledger.State, today models.Date, ids ...TableID) []Table {
	tables := make([]Table, 0, len(ids))
	for _, id := range ids {
		switch id {
		case Customers:
			tables = append(tables, CustomersTable(state.Customers))
		case Transactions:
			tables = append(tables, TransactionsTable(state.Transactions))
		case PromotionalWindows:
			tables = append(tables, WindowsTable(state.Promotions.Windows(today)))
		}
	}
	return tables
}
