package notify

import (
	"context"
	"sync"
)

// Mock is an in-memory Notifier for tests. It records posted notifications
// and can be told to fail.
type Mock struct {
	mu     sync.Mutex
	posted []Notification
	// FailWith, when non-nil, is returned by every Post call.
	FailWith error
}

// NewMock creates a Mock notifier.
func NewMock() *Mock {
	return &Mock{}
}

// Post records the notification.
func (m *Mock) Post(ctx context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.posted = append(m.posted, n)
	return nil
}

// Posted returns a copy of all recorded notifications.
func (m *Mock) Posted() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.posted))
	copy(out, m.posted)
	return out
}
