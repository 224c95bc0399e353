// Package promo tracks time-bounded promotional product campaigns.
package promo

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"loyalty-ledger/internal/models"
)

var (
	ErrDuplicateWindow = errors.New("promo: product already registered")
	ErrInvalidRange    = errors.New("promo: start date after end date")
	ErrEmptyProduct    = errors.New("promo: product name is required")
)

// Registry holds promotional windows keyed by product name.
type Registry struct {
	windows map[string]models.PromotionalWindow
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{windows: make(map[string]models.PromotionalWindow)}
}

// Load replaces the registry contents with stored windows. Stored IsActive
// flags are ignored. Later duplicates of a product name are dropped.
func Load(windows []models.PromotionalWindow) *Registry {
	r := NewRegistry()
	for _, w := range windows {
		key := strings.TrimSpace(w.ProductName)
		if key == "" {
			continue
		}
		if _, exists := r.windows[key]; exists {
			continue
		}
		w.ProductName = key
		w.IsActive = false
		r.windows[key] = w
		r.order = append(r.order, key)
	}
	return r
}

// Add registers a new window.
func (r *Registry) Add(productName string, start, end, today models.Date) (models.PromotionalWindow, error) {
	productName = strings.TrimSpace(productName)
	if productName == "" {
		return models.PromotionalWindow{}, ErrEmptyProduct
	}
	if _, exists := r.windows[productName]; exists {
		return models.PromotionalWindow{}, fmt.Errorf("%w: %s", ErrDuplicateWindow, productName)
	}
	if start.After(end) {
		return models.PromotionalWindow{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}

	w := models.PromotionalWindow{
		ProductName: productName,
		StartDate:   start,
		EndDate:     end,
	}
	w.IsActive = isActive(w, today)

	r.windows[productName] = w
	r.order = append(r.order, productName)
	return w, nil
}

// Remove deletes a window. Removing an unknown product is a no-op.
func (r *Registry) Remove(productName string) bool {
	productName = strings.TrimSpace(productName)
	if _, exists := r.windows[productName]; !exists {
		return false
	}
	delete(r.windows, productName)
	for i, name := range r.order {
		if name == productName {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Active returns the names of every window covering today, sorted.
func (r *Registry) Active(today models.Date) []string {
	var active []string
	for _, name := range r.order {
		if isActive(r.windows[name], today) {
			active = append(active, name)
		}
	}
	sort.Strings(active)
	return active
}

// AnyActive reports whether at least one window covers today.
func (r *Registry) AnyActive(today models.Date) bool {
	for _, name := range r.order {
		if isActive(r.windows[name], today) {
			return true
		}
	}
	return false
}

// Windows returns every window in insertion order with IsActive refreshed.
func (r *Registry) Windows(today models.Date) []models.PromotionalWindow {
	out := make([]models.PromotionalWindow, 0, len(r.order))
	for _, name := range r.order {
		w := r.windows[name]
		w.IsActive = isActive(w, today)
		out = append(out, w)
	}
	return out
}

// Len returns the number of registered windows.
func (r *Registry) Len() int {
	return len(r.order)
}

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		windows: make(map[string]models.PromotionalWindow, len(r.windows)),
		order:   append([]string(nil), r.order...),
	}
	for k, v := range r.windows {
		c.windows[k] = v
	}
	return c
}

func isActive(w models.PromotionalWindow, today models.Date) bool {
	return !today.Before(w.StartDate) && !today.After(w.EndDate)
}
