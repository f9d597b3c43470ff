package testutils

import (
	"context"
	"sync"
)

// Notification is one captured alert.
type Notification struct {
	Title   string
	Message string
}

// MockNotifier records notifications; Fail makes Notify return an error
// after recording.
type MockNotifier struct {
	mu   sync.Mutex
	sent []Notification
	Fail error
}

func NewMockNotifier() *MockNotifier { return &MockNotifier{} }

func (n *MockNotifier) Notify(ctx context.Context, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Title: title, Message: message})
	return n.Fail
}

func (n *MockNotifier) Messages() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}
