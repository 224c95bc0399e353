// Package storage defines the persistence contract for the ledger tables and
// the CSV codec shared by every backend.
package storage

import (
	"context"
	"errors"
)

// TableID names a logical table.
type TableID string

const (
	Customers          TableID = "customers"
	Transactions       TableID = "transactions"
	PromotionalWindows TableID = "promotional_windows"
)

// FileName is the file a table is stored under by file-based backends.
func (id TableID) FileName() string {
	return string(id) + ".csv"
}

// Table is a flat rectangular record set.
type Table struct {
	ID      TableID
	Columns []string
	Rows    [][]string
}

// Store persists whole tables. LoadTable returns an empty table when the
// backing store has nothing usable. SaveTables overwrites every given table
// and is all-or-nothing from the caller's point of view.
type Store interface {
	LoadTable(ctx context.Context, id TableID) (Table, error)
	SaveTables(ctx context.Context, message string, tables ...Table) error
}

// ErrPartialWrite is returned by backends that could not commit every table
// of a SaveTables call.
var ErrPartialWrite = errors.New("storage: only some tables were written")

// ErrConflict is returned when a table changed in the backing store after it
// was loaded, so saving would overwrite another writer's update.
var ErrConflict = errors.New("storage: table changed since it was loaded")
