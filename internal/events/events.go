package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"duo-pass-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventPassPurchased is emitted when a new month pass is charged.
	EventPassPurchased EventType = "pass.purchased"
	// EventPassUpgraded is emitted when a month pass moves to a higher tier.
	EventPassUpgraded EventType = "pass.upgraded"
	// EventPassRefunded is emitted when the refund sweep refunds a pass.
	EventPassRefunded EventType = "pass.refunded"
	// EventMatchRecorded is emitted when the matcher reports a user-month.
	EventMatchRecorded EventType = "match.recorded"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// PassPurchasedData is the payload of pass.purchased and pass.upgraded.
type PassPurchasedData struct {
	Item models.PurchasedMonth
}

// PassRefundedData is the payload of pass.refunded.
type PassRefundedData struct {
	Refund models.RefundedPass
}

// MatchRecordedData is the payload of match.recorded.
type MatchRecordedData struct {
	Status models.MatchStatus
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	wg       sync.WaitGroup
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
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

// Publish hands the event to every subscriber on its own goroutine. Handlers
// run after the ledger write has committed and cannot affect it.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	// The read lock is held across wg.Add so Shutdown cannot start waiting
	// while handlers are still being scheduled.
	m.mu.RLock()
	defer m.mu.RUnlock()

	handlers := m.handlers[eventType]
	if !m.enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	// The request context may be cancelled before handlers finish.
	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(ctx, event); err != nil {
				log.Warn().Err(err).Str("event", string(event.Type)).Msg("event handler failed")
			}
		}(handler)
	}
}

// PublishPurchase publishes pass.purchased or pass.upgraded for a committed month.
func (m *Manager) PublishPurchase(ctx context.Context, item models.PurchasedMonth) {
	eventType := EventPassPurchased
	if item.Action == models.ActionUpgraded {
		eventType = EventPassUpgraded
	}
	m.Publish(ctx, eventType, PassPurchasedData{Item: item})
}

// PublishRefund publishes pass.refunded.
func (m *Manager) PublishRefund(ctx context.Context, refund models.RefundedPass) {
	m.Publish(ctx, EventPassRefunded, PassRefundedData{Refund: refund})
}

// PublishMatch publishes match.recorded.
func (m *Manager) PublishMatch(ctx context.Context, status models.MatchStatus) {
	m.Publish(ctx, EventMatchRecorded, MatchRecordedData{Status: status})
}

// Wait blocks until every in-flight handler has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops publishing and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
