package promo

import (
	"errors"
	"testing"
	"time"

	"loyalty-ledger/internal/models"
)

var today = models.NewDate(2025, time.October, 21)

func TestAdd_Success(t *testing.T) {
	r := NewRegistry()

	w, err := r.Add("Perfume X", models.NewDate(2025, 10, 1), models.NewDate(2025, 10, 31), today)
	if err != nil {
		t.Fatalf("Failed to add window: %v", err)
	}
	if !w.IsActive {
		t.Error("Expected window covering today to be active")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 window, got %d", r.Len())
	}
}

func TestAdd_Duplicate(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Add("Perfume X", today, today, today); err != nil {
		t.Fatalf("Failed to add window: %v", err)
	}

	_, err := r.Add("Perfume X", today, today, today)
	if !errors.Is(err, ErrDuplicateWindow) {
		t.Errorf("Expected ErrDuplicateWindow, got %v", err)
	}
}

func TestAdd_InvalidRange(t *testing.T) {
	r := NewRegistry()

	_, err := r.Add("Lipstick", models.NewDate(2025, 10, 31), models.NewDate(2025, 10, 1), today)
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Expected ErrInvalidRange, got %v", err)
	}
	if r.Len() != 0 {
		t.Error("Expected registry to stay empty")
	}
}

func TestAdd_SingleDayWindow(t *testing.T) {
	r := NewRegistry()
	w, err := r.Add("Gloss", today, today, today)
	if err != nil {
		t.Fatalf("Failed to add window: %v", err)
	}
	if !w.IsActive {
		t.Error("Expected inclusive single-day window to be active")
	}
}

func TestRemove_Idempotent(t *testing.T) {
	r := NewRegistry()
	r.Add("Gloss", today, today, today)

	if !r.Remove("Gloss") {
		t.Error("Expected first remove to report removal")
	}
	if r.Remove("Gloss") {
		t.Error("Expected second remove to be a no-op")
	}
	if r.Remove("Unknown") {
		t.Error("Expected unknown remove to be a no-op")
	}
}

func TestActive_RecomputedFromDates(t *testing.T) {
	// stored flags must not be trusted
	r := Load([]models.PromotionalWindow{
		{ProductName: "Old", StartDate: models.NewDate(2024, 1, 1), EndDate: models.NewDate(2024, 1, 31), IsActive: true},
		{ProductName: "Current", StartDate: models.NewDate(2025, 10, 21), EndDate: models.NewDate(2025, 11, 30), IsActive: false},
		{ProductName: "Future", StartDate: models.NewDate(2025, 10, 22), EndDate: models.NewDate(2025, 12, 31)},
	})

	active := r.Active(today)
	if len(active) != 1 || active[0] != "Current" {
		t.Fatalf("Expected only Current active, got %v", active)
	}

	if !r.AnyActive(today) {
		t.Error("Expected AnyActive to be true")
	}
	if r.AnyActive(models.NewDate(2026, 6, 1)) {
		t.Error("Expected nothing active in mid 2026")
	}

	for _, w := range r.Windows(today) {
		if w.IsActive != (w.ProductName == "Current") {
			t.Errorf("Window %s has IsActive=%v", w.ProductName, w.IsActive)
		}
	}
}

func TestClone_Independent(t *testing.T) {
	r := NewRegistry()
	r.Add("A", today, today, today)

	c := r.Clone()
	c.Add("B", today, today, today)
	c.Remove("A")

	if r.Len() != 1 || len(r.Active(today)) != 1 {
		t.Error("Expected original registry to be unaffected by clone mutations")
	}
}
