package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"loyalty-ledger/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventCustomerRegistered is emitted after a new customer is persisted.
	EventCustomerRegistered EventType = "customer.registered"
	// EventCustomerDeleted is emitted after a customer and their history are removed.
	EventCustomerDeleted EventType = "customer.deleted"
	// EventSaleRecorded is emitted after a sale (and any referral bonus) is persisted.
	EventSaleRecorded EventType = "sale.recorded"
	// EventCashbackRedeemed is emitted after a redemption is persisted.
	EventCashbackRedeemed EventType = "cashback.redeemed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// CustomerRegisteredData contains data for customer registered events.
type CustomerRegisteredData struct {
	Customer models.Customer
}

// CustomerDeletedData contains data for customer deleted events.
type CustomerDeletedData struct {
	Name                string
	TransactionsRemoved int
}

// SaleRecordedData contains data for sale recorded events.
type SaleRecordedData struct {
	Customer      models.Customer
	Sale          models.Transaction
	EffectiveRate decimal.Decimal
	PurchaseCount int
	Referrer      *models.Customer
	ReferralBonus *models.Transaction
}

// CashbackRedeemedData contains data for cashback redeemed events.
type CashbackRedeemedData struct {
	Customer   models.Customer
	Redemption models.Transaction
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish runs every subscribed handler in its own goroutine. Handlers get a
// context detached from the caller's cancellation, so a finished HTTP request
// does not abort delivery. Handler errors are logged and dropped.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	if !m.enabled {
		m.mu.RUnlock()
		return
	}
	handlers := append([]Handler(nil), m.handlers[eventType]...)
	// Add under the lock so Shutdown cannot start waiting in between.
	m.wg.Add(len(handlers))
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	hctx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(hctx, event); err != nil {
				m.logger.Warn("event handler failed", "event", string(eventType), "error", err)
			}
		}(handler)
	}
}

// PublishCustomerRegistered publishes a customer registered event.
func (m *Manager) PublishCustomerRegistered(ctx context.Context, customer models.Customer) {
	m.Publish(ctx, EventCustomerRegistered, CustomerRegisteredData{Customer: customer})
}

// PublishCustomerDeleted publishes a customer deleted event.
func (m *Manager) PublishCustomerDeleted(ctx context.Context, name string, removed int) {
	m.Publish(ctx, EventCustomerDeleted, CustomerDeletedData{Name: name, TransactionsRemoved: removed})
}

// PublishSaleRecorded publishes a sale recorded event.
func (m *Manager) PublishSaleRecorded(ctx context.Context, data SaleRecordedData) {
	m.Publish(ctx, EventSaleRecorded, data)
}

// PublishCashbackRedeemed publishes a cashback redeemed event.
func (m *Manager) PublishCashbackRedeemed(ctx context.Context, customer models.Customer, redemption models.Transaction) {
	m.Publish(ctx, EventCashbackRedeemed, CashbackRedeemedData{Customer: customer, Redemption: redemption})
}

// Wait blocks until all in-flight handlers have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops accepting events and waits for in-flight handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
