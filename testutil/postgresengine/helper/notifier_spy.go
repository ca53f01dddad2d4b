package helper

import (
	"context"
	"sync"

	"github.com/shiftcircle/lending-engine-go/lending"
)

// NotifierSpy is a Notifier implementation that captures notifications for testing.
type NotifierSpy struct {
	mu            sync.Mutex
	notifications []lending.Notification
}

// NewNotifierSpy creates a new NotifierSpy.
func NewNotifierSpy() *NotifierSpy {
	return &NotifierSpy{}
}

// Notify implements the Notifier interface for testing.
func (s *NotifierSpy) Notify(_ context.Context, notification lending.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, notification)
}

// GetNotifications returns a copy of all captured notifications.
func (s *NotifierSpy) GetNotifications() []lending.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	notifications := make([]lending.Notification, len(s.notifications))
	copy(notifications, s.notifications)

	return notifications
}

// CountKind counts the captured notifications of one kind.
func (s *NotifierSpy) CountKind(kind lending.NotificationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, notification := range s.notifications {
		if notification.Kind == kind {
			count++
		}
	}

	return count
}

// HasKind checks if a notification of the given kind was captured.
func (s *NotifierSpy) HasKind(kind lending.NotificationKind) bool {
	return s.CountKind(kind) > 0
}

// Reset clears all captured notifications.
func (s *NotifierSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = s.notifications[:0]
}

var _ lending.Notifier = (*NotifierSpy)(nil)
